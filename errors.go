/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"log"
	"time"
)

var (
	// ErrAddressUnavailable is returned by Open when another live peer holds the address.
	ErrAddressUnavailable = errors.New("address unavailable")
	// ErrConnectionFailed is returned when a guest cannot reach the host address.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrPeerDisconnected ends a guest session whose host link closed.
	ErrPeerDisconnected = errors.New("peer disconnected")
	// ErrInvalidJoinInput means pasted text held no usable room code.
	ErrInvalidJoinInput = errors.New("invalid room code or link")
	// ErrExternalService wraps mission and alert writer failures.
	ErrExternalService = errors.New("text service failure")
	ErrSendFailed      = errors.New("send failed")
	ErrTransportClosed = errors.New("transport destroyed")

	ErrNotHost       = errors.New("only the host may change the game")
	ErrSessionClosed = errors.New("session closed")

	// ErrHostRaisesDirectly is returned when a host asks itself for an emergency.
	ErrHostRaisesDirectly = errors.New("host raises emergencies directly")

	ErrEmergencyCooldown = errors.New("emergency is cooling down")
	ErrNotInLobby        = errors.New("game is not in the lobby")
	ErrNotActive         = errors.New("game is not active")
	ErrTooFewPlayers     = errors.New("not enough players")
	ErrUnknownPlayer     = errors.New("unknown player")
	ErrEmptyName         = errors.New("player name is empty")
	ErrRosterChanged     = errors.New("roster changed while missions were written")
	ErrInvalidRole       = errors.New("invalid role")
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}
