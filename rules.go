/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	crand "crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
	"slices"
	"strings"
	"time"
)

const (
	// MinPlayers is the smallest roster a game can start with
	MinPlayers = 3

	EmergencyCooldown = 150 * time.Second
	EmergencyDuration = 8 * time.Second
)

func newRand() *mrand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		binary.LittleEndian.PutUint64(seed[:], uint64(time.Now().UnixNano()))
	}
	return mrand.New(mrand.NewChaCha8(seed))
}

// DefaultRoleCounts mirrors the table hosts get when they never touch the
// role counters.
func DefaultRoleCounts(players int) (impostors, detectives int) {
	switch {
	case players >= 9:
		return 3, 2
	case players >= 6:
		return 2, 1
	default:
		return 1, 1
	}
}

// ClampRoleCounts keeps impostors+detectives at or below players-1 so at
// least one innocent remains. Detectives give way first.
func ClampRoleCounts(players, impostors, detectives int) (int, int) {
	limit := max(players-1, 0)
	impostors = min(max(impostors, 0), limit)
	detectives = min(max(detectives, 0), limit-impostors)
	return impostors, detectives
}

// AssignRoles hands out roles without clamping; callers run ClampRoleCounts
// first. Overrides win for the players they name and consume their share of
// the requested counts. The rest get a role sequence (impostors, then
// detectives, then innocents) shuffled independently of the shuffled
// players and paired by position. Roster order is kept in the result.
func AssignRoles(players []Player, impostors, detectives int, overrides map[string]Role, rng *mrand.Rand) []Player {
	out := slices.Clone(players)

	open := make([]int, 0, len(out))
	for i := range out {
		role, ok := overrides[out[i].ID]
		if !ok || !role.Valid() {
			open = append(open, i)
			continue
		}
		out[i].Role = role
		switch role {
		case RoleImpostor:
			impostors--
		case RoleDetective:
			detectives--
		}
	}

	roles := make([]Role, 0, len(open))
	for range max(impostors, 0) {
		roles = append(roles, RoleImpostor)
	}
	for range max(detectives, 0) {
		roles = append(roles, RoleDetective)
	}
	for len(roles) < len(open) {
		roles = append(roles, RoleInnocent)
	}
	roles = roles[:len(open)]

	rng.Shuffle(len(roles), func(i, j int) {
		roles[i], roles[j] = roles[j], roles[i]
	})
	rng.Shuffle(len(open), func(i, j int) {
		open[i], open[j] = open[j], open[i]
	})

	for k, idx := range open {
		out[idx].Role = roles[k]
	}

	return out
}

// AttachMissions looks missions up by player id. Display names are not
// unique, so they are never used as keys.
func AttachMissions(players []Player, missions map[string]string) []Player {
	out := slices.Clone(players)
	for i := range out {
		mission := strings.TrimSpace(missions[out[i].ID])
		if mission == "" {
			mission = fallbackMission(out[i].Role)
		}
		out[i].Mission = mission
	}
	return out
}

// StartGame moves a lobby into play with an already assigned roster.
func StartGame(state GameState, players []Player, now time.Time) (GameState, error) {
	if !state.Status.canTransitionTo(StatusActive) {
		return state, ErrNotInLobby
	}
	if len(players) < MinPlayers {
		return state, ErrTooFewPlayers
	}

	state.Players = players
	state.Status = StatusActive
	state.StartTime = now
	state.IsEmergency = false
	state.EmergencyMessage = ""

	return state, nil
}

// TriggerEmergency raises the alert unless the previous one was less than
// EmergencyCooldown ago.
func TriggerEmergency(state GameState, now time.Time, message string) (GameState, error) {
	if !state.LastEmergencyTime.IsZero() && now.Sub(state.LastEmergencyTime) < EmergencyCooldown {
		return state, ErrEmergencyCooldown
	}

	state.IsEmergency = true
	state.EmergencyMessage = message
	state.LastEmergencyTime = now

	return state, nil
}

func ClearEmergency(state GameState) GameState {
	state.IsEmergency = false
	state.EmergencyMessage = ""
	return state
}

func EndGame(state GameState) (GameState, error) {
	if !state.Status.canTransitionTo(StatusEnded) {
		return state, ErrNotActive
	}

	state = ClearEmergency(state)
	state.Status = StatusEnded

	return state, nil
}
