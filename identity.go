/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand/v2"
	"net/url"
	"strings"
)

const (
	// AddressPrefix namespaces room addresses on a broker shared with
	// unrelated deployments.
	AddressPrefix = "jdi25-"

	RoomCodeLength = 5
	RoomCodeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	joinMarker = "host="
)

// GenerateRoomCode returns a short code meant to be read aloud. Codes are not
// unique; the broker rejects a live duplicate and the host retries.
func GenerateRoomCode() string {
	code := make([]byte, RoomCodeLength)
	for i := range RoomCodeLength {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(RoomCodeChars))))
		if err != nil {
			code[i] = RoomCodeChars[mrand.IntN(len(RoomCodeChars))]
			continue
		}
		code[i] = RoomCodeChars[n.Int64()]
	}
	return string(code)
}

func DeriveAddress(code string) string {
	return AddressPrefix + code
}

func ExtractCode(address string) string {
	return strings.TrimPrefix(address, AddressPrefix)
}

func validRoomCode(code string) bool {
	if len(code) != RoomCodeLength {
		return false
	}
	for i := range len(code) {
		if !strings.ContainsRune(RoomCodeChars, rune(code[i])) {
			return false
		}
	}
	return true
}

// ParseJoinInput accepts a bare code, a bare address or a pasted share link
// and returns the peer address to connect to.
func ParseJoinInput(input string) (string, error) {
	text := strings.TrimSpace(input)

	if i := strings.Index(text, joinMarker); i >= 0 {
		text = text[i+len(joinMarker):]
		if j := strings.IndexAny(text, "&#"); j >= 0 {
			text = text[:j]
		}
		if unescaped, err := url.QueryUnescape(text); err == nil {
			text = unescaped
		}
		text = strings.TrimSpace(text)
	}

	code := strings.ToUpper(text)
	if strings.HasPrefix(strings.ToLower(text), AddressPrefix) {
		code = strings.ToUpper(text[len(AddressPrefix):])
	}

	if !validRoomCode(code) {
		return "", ErrInvalidJoinInput
	}

	return DeriveAddress(code), nil
}

// ShareLink builds the address a guest can open or paste to join.
func ShareLink(baseURL, address string) string {
	return strings.TrimSuffix(baseURL, "/") + "/?" + joinMarker + url.QueryEscape(address)
}
