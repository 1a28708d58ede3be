/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"slices"
	"time"
)

type Role string

const (
	RoleImpostor  Role = "IMPOSTOR"
	RoleDetective Role = "DETECTIVE"
	RoleInnocent  Role = "INNOCENT"
)

func (r Role) Valid() bool {
	switch r {
	case RoleImpostor, RoleDetective, RoleInnocent:
		return true
	}
	return false
}

func parseRole(s string) (Role, bool) {
	switch s {
	case "imp", "impostor", "IMPOSTOR":
		return RoleImpostor, true
	case "det", "detective", "DETECTIVE":
		return RoleDetective, true
	case "ino", "innocent", "INNOCENT":
		return RoleInnocent, true
	}
	return "", false
}

type Status string

const (
	StatusLobby  Status = "LOBBY"
	StatusActive Status = "ACTIVE"
	StatusEnded  Status = "ENDED"
)

// canTransitionTo reports whether a session may move from s to next.
// ENDED is terminal and nothing ever returns to LOBBY.
func (s Status) canTransitionTo(next Status) bool {
	switch s {
	case StatusLobby:
		return next == StatusActive || next == StatusEnded
	case StatusActive:
		return next == StatusEnded
	}
	return false
}

// Player is one roster entry. IsAlive is carried on the wire but nothing
// mutates it yet.
type Player struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    Role   `json:"role,omitempty"`
	Mission string `json:"mission,omitempty"`
	IsAlive bool   `json:"isAlive"`
}

// GameState is the replicated document. Only the host's copy is mutable;
// every guest holds a snapshot that gets replaced wholesale.
type GameState struct {
	MatchID           string    `json:"matchId"`
	Status            Status    `json:"status"`
	Players           []Player  `json:"players"`
	IsEmergency       bool      `json:"isEmergency"`
	EmergencyMessage  string    `json:"emergencyMessage,omitempty"`
	StartTime         time.Time `json:"startTime,omitzero"`
	LastEmergencyTime time.Time `json:"lastEmergencyTime,omitzero"`
}

func newGameState(matchID string) GameState {
	return GameState{
		MatchID: matchID,
		Status:  StatusLobby,
		Players: []Player{},
	}
}

// clone returns a copy that shares no memory with s.
func (s GameState) clone() GameState {
	s.Players = slices.Clone(s.Players)
	if s.Players == nil {
		s.Players = []Player{}
	}
	return s
}

func (s GameState) player(id string) (Player, int, bool) {
	for i, p := range s.Players {
		if p.ID == id {
			return p, i, true
		}
	}
	return Player{}, -1, false
}
