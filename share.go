/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/skip2/go-qrcode"
)

const qrSize = 320

// shareBaseURL picks the base that share links point at: the configured
// one, or the broker's landing page.
func shareBaseURL(cfg *Config) string {
	if cfg.baseURL != "" {
		return strings.TrimSuffix(cfg.baseURL, "/")
	}
	return strings.TrimSuffix(cfg.broker, "/")
}

// printShare writes the room code, the link and a QR code small enough for
// a terminal.
func printShare(w io.Writer, cfg *Config, address string) error {
	link := ShareLink(shareBaseURL(cfg), address)

	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("generating qr code: %w", err)
	}

	_, err = fmt.Fprintf(w, "Room code: %s\nLink:      %s\n\n%s\n", ExtractCode(address), link, qr.ToSmallString(false))

	return err
}
