/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestGenerateRoomCode(t *testing.T) {
	for range 200 {
		code := GenerateRoomCode()
		if !validRoomCode(code) {
			t.Fatalf("generated invalid code %q", code)
		}
	}
}

func TestAddressRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		code := rapid.StringMatching(`[A-Z0-9]{5}`).Draw(t, "code")

		address := DeriveAddress(code)
		if !strings.HasPrefix(address, AddressPrefix) {
			t.Fatalf("address %q lacks prefix", address)
		}
		if got := ExtractCode(address); got != code {
			t.Fatalf("ExtractCode(DeriveAddress(%q)) = %q", code, got)
		}
	})
}

func TestParseJoinInputRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		code := rapid.StringMatching(`[A-Z0-9]{5}`).Draw(t, "code")
		base := rapid.SampledFrom([]string{
			"https://example.com",
			"https://example.com/play/",
			"http://192.168.1.20:8080",
		}).Draw(t, "base")
		address := DeriveAddress(code)

		inputs := []string{
			code,
			strings.ToLower(code),
			address,
			ShareLink(base, address),
			ShareLink(base, address) + "&utm=qr",
			ShareLink(base, address) + "#top",
		}
		for _, in := range inputs {
			got, err := ParseJoinInput(in)
			if err != nil {
				t.Fatalf("ParseJoinInput(%q): %v", in, err)
			}
			if got != address {
				t.Fatalf("ParseJoinInput(%q) = %q, want %q", in, got, address)
			}
		}
	})
}

func TestParseJoinInput(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  error
	}{
		{in: "AB12C", want: "jdi25-AB12C"},
		{in: "  ab12c\n", want: "jdi25-AB12C"},
		{in: "jdi25-AB12C", want: "jdi25-AB12C"},
		{in: "https://x.test/?host=jdi25-AB12C", want: "jdi25-AB12C"},
		{in: "https://x.test/?host=jdi25-AB12C&ref=qr", want: "jdi25-AB12C"},
		{in: "https://x.test/?ref=qr&host=jdi25-AB12C#lobby", want: "jdi25-AB12C"},
		{in: "https://x.test/?host=AB12C", want: "jdi25-AB12C"},
		{in: "", err: ErrInvalidJoinInput},
		{in: "AB12", err: ErrInvalidJoinInput},
		{in: "AB12CD", err: ErrInvalidJoinInput},
		{in: "AB-2C", err: ErrInvalidJoinInput},
		{in: "https://x.test/?room=AB12C", err: ErrInvalidJoinInput},
		{in: "https://x.test/?host=", err: ErrInvalidJoinInput},
	}

	for _, tt := range tests {
		got, err := ParseJoinInput(tt.in)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Errorf("ParseJoinInput(%q) err = %v, want %v", tt.in, err, tt.err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseJoinInput(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestShareLink(t *testing.T) {
	if got, want := ShareLink("https://example.com/", "jdi25-AB12C"), "https://example.com/?host=jdi25-AB12C"; got != want {
		t.Errorf("ShareLink = %q, want %q", got, want)
	}
}
