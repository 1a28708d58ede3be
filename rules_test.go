/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func roster(n int) []Player {
	players := make([]Player, n)
	for i := range players {
		players[i] = Player{ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("Player %d", i), IsAlive: true}
	}
	return players
}

func countRoles(players []Player) map[Role]int {
	counts := map[Role]int{}
	for _, p := range players {
		counts[p.Role]++
	}
	return counts
}

func TestDefaultRoleCounts(t *testing.T) {
	tests := []struct {
		players, impostors, detectives int
	}{
		{3, 1, 1},
		{5, 1, 1},
		{6, 2, 1},
		{8, 2, 1},
		{9, 3, 2},
		{15, 3, 2},
	}

	for _, tt := range tests {
		imp, det := DefaultRoleCounts(tt.players)
		if imp != tt.impostors || det != tt.detectives {
			t.Errorf("DefaultRoleCounts(%d) = %d, %d, want %d, %d", tt.players, imp, det, tt.impostors, tt.detectives)
		}
	}
}

func TestClampRoleCounts(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "players")
		imp := rapid.IntRange(-3, 40).Draw(t, "impostors")
		det := rapid.IntRange(-3, 40).Draw(t, "detectives")

		ci, cd := ClampRoleCounts(n, imp, det)
		if ci < 0 || cd < 0 {
			t.Fatalf("negative counts %d, %d", ci, cd)
		}
		if n > 0 && ci+cd > n-1 {
			t.Fatalf("ClampRoleCounts(%d, %d, %d) = %d, %d leaves no innocent", n, imp, det, ci, cd)
		}
		if ci > max(imp, 0) || cd > max(det, 0) {
			t.Fatalf("clamping raised a count: %d, %d from %d, %d", ci, cd, imp, det)
		}
	})
}

func TestAssignRolesCounts(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(MinPlayers, 20).Draw(t, "players")
		imp, det := ClampRoleCounts(n,
			rapid.IntRange(0, n).Draw(t, "impostors"),
			rapid.IntRange(0, n).Draw(t, "detectives"),
		)
		seed := rapid.Uint64().Draw(t, "seed")

		players := roster(n)
		out := AssignRoles(players, imp, det, nil, mrand.New(mrand.NewPCG(seed, 0)))

		counts := countRoles(out)
		if counts[RoleImpostor] != imp || counts[RoleDetective] != det || counts[RoleInnocent] != n-imp-det {
			t.Fatalf("n=%d imp=%d det=%d got %v", n, imp, det, counts)
		}
		if counts[RoleInnocent] < 1 {
			t.Fatal("no innocent left")
		}
		for i := range out {
			if out[i].ID != players[i].ID {
				t.Fatalf("roster order changed at %d", i)
			}
		}
		if players[0].Role != "" {
			t.Fatal("input roster was modified")
		}
	})
}

func TestAssignRolesOverrides(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(4, 12).Draw(t, "players")
		pinned := rapid.IntRange(0, n-1).Draw(t, "pinned")
		role := rapid.SampledFrom([]Role{RoleImpostor, RoleDetective, RoleInnocent}).Draw(t, "role")
		seed := rapid.Uint64().Draw(t, "seed")

		players := roster(n)
		overrides := map[string]Role{players[pinned].ID: role}

		out := AssignRoles(players, 1, 1, overrides, mrand.New(mrand.NewPCG(seed, 1)))

		if out[pinned].Role != role {
			t.Fatalf("pinned player got %s, want %s", out[pinned].Role, role)
		}
		counts := countRoles(out)
		if counts[RoleImpostor] != 1 || counts[RoleDetective] != 1 {
			t.Fatalf("override changed totals: %v", counts)
		}
	})
}

func TestAssignRolesIsShuffled(t *testing.T) {
	players := roster(8)
	rng := mrand.New(mrand.NewPCG(7, 7))

	impostorAt := map[int]bool{}
	for range 100 {
		out := AssignRoles(players, 1, 0, nil, rng)
		for i, p := range out {
			if p.Role == RoleImpostor {
				impostorAt[i] = true
			}
		}
	}

	if len(impostorAt) < 4 {
		t.Errorf("impostor only ever landed on %d seats out of 8", len(impostorAt))
	}
}

func TestAttachMissions(t *testing.T) {
	players := []Player{
		{ID: "a", Name: "Ana", Role: RoleImpostor},
		{ID: "b", Name: "Ana", Role: RoleDetective},
		{ID: "c", Name: "Bruno", Role: RoleInnocent},
	}

	out := AttachMissions(players, map[string]string{"a": "Steal the map", "c": "   "})

	want := []string{"Steal the map", fallbackMission(RoleDetective), fallbackMission(RoleInnocent)}
	for i, p := range out {
		if p.Mission != want[i] {
			t.Errorf("%s (%s) mission = %q, want %q", p.Name, p.ID, p.Mission, want[i])
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusLobby, StatusActive, true},
		{StatusLobby, StatusEnded, true},
		{StatusActive, StatusEnded, true},
		{StatusActive, StatusLobby, false},
		{StatusEnded, StatusLobby, false},
		{StatusEnded, StatusActive, false},
	}

	for _, tt := range tests {
		if got := tt.from.canTransitionTo(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestEndGameFromLobby(t *testing.T) {
	st, err := EndGame(newGameState("AB12C"))
	if err != nil || st.Status != StatusEnded {
		t.Errorf("EndGame from lobby = %s, %v", st.Status, err)
	}
}

func TestTriggerEmergencyCooldown(t *testing.T) {
	epoch := time.UnixMilli(1_700_000_000_000)
	at := func(ms int64) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

	st := newGameState("AB12C")
	st.Status = StatusActive

	st, err := TriggerEmergency(st, at(0), "first")
	if err != nil {
		t.Fatalf("t=0: %v", err)
	}
	st = ClearEmergency(st)

	for _, ms := range []int64{1, 100_000, 149_999} {
		if _, err := TriggerEmergency(st, at(ms), "early"); !errors.Is(err, ErrEmergencyCooldown) {
			t.Errorf("t=%d: err = %v, want ErrEmergencyCooldown", ms, err)
		}
	}

	st, err = TriggerEmergency(st, at(150_000), "second")
	if err != nil {
		t.Fatalf("t=150000: %v", err)
	}
	if !st.IsEmergency || st.EmergencyMessage != "second" || !st.LastEmergencyTime.Equal(at(150_000)) {
		t.Errorf("state after second emergency: %+v", st)
	}
}

func TestStartGameRejectsSmallRoster(t *testing.T) {
	_, err := StartGame(newGameState("AB12C"), roster(2), time.Now())
	if !errors.Is(err, ErrTooFewPlayers) {
		t.Errorf("err = %v, want ErrTooFewPlayers", err)
	}
}
