/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
)

const bell = "\a"

const hostHelp = `Commands:
  add <name>                       add a player to the lobby
  remove <n>                       remove player n
  impostors <n>, detectives <n>    set role counts
  role <n> <imp|det|ino|clear>     pin a role for player n
  start                            assign roles and start
  emergency                        call an emergency meeting
  clear                            clear the emergency
  end                              end the game
  show                             print the game
  share                            print the join link and qr code
  reset                            close the room and exit
`

const guestHelp = `Commands:
  claim <n>    this device plays as player n
  switch       forget the claimed player
  me           show your role and mission
  emergency    ask the host for an emergency meeting
  show         print the game
  quit         leave the room
`

type console struct {
	cfg   *Config
	s     *Session
	store IdentityStore
	out   io.Writer

	me        string
	emergency bool
}

// runConsole drives a session from line input until the user leaves, the
// input ends or the session does.
func runConsole(ctx context.Context, cfg *Config, s *Session, store IdentityStore, in io.Reader, out io.Writer) error {
	c := &console{cfg: cfg, s: s, store: store, out: out}

	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			case <-s.Done():
				return
			}
		}
	}()

	if s.IsHost() {
		_ = printShare(out, cfg, s.Address())
		fmt.Fprint(out, hostHelp)
	} else {
		fmt.Fprint(out, guestHelp)
	}
	if st, ok := s.State(); ok {
		c.update(st)
	}

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return nil
		case <-s.Done():
			if err := s.Err(); err != nil {
				fmt.Fprintf(out, "Session ended: %v\n", err)
				return err
			}
			return nil
		case st := <-s.Updates():
			c.update(st)
		case n := <-s.Notices():
			fmt.Fprintf(out, "! %s\n", n.Text)
		case line, ok := <-lines:
			if !ok {
				s.Close()
				return nil
			}
			quit, err := c.exec(ctx, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				s.Close()
				return nil
			}
		}
	}
}

func (c *console) update(st GameState) {
	if c.me == "" && !c.s.IsHost() && c.store != nil {
		if id, ok := c.store.Load(st.MatchID); ok {
			if _, _, found := st.player(id); found {
				c.me = id
			}
		}
	}

	if st.IsEmergency && !c.emergency {
		fmt.Fprint(c.out, bell)
	}
	c.emergency = st.IsEmergency

	c.render(st)
}

func (c *console) render(st GameState) {
	fmt.Fprintf(c.out, "\n[%s] %s, %d players\n", st.MatchID, st.Status, len(st.Players))

	if st.IsEmergency {
		fmt.Fprintf(c.out, "*** %s ***\n", st.EmergencyMessage)
	}

	var pins map[string]Role
	if c.s.IsHost() {
		pins = c.s.ManualRoles()
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for i, p := range st.Players {
		marker := " "
		if p.ID == c.me {
			marker = "*"
		}

		// Guests only ever see their own role, through "me".
		role := ""
		switch {
		case !c.s.IsHost():
		case st.Status == StatusLobby:
			if pinned, ok := pins[p.ID]; ok {
				role = "pinned " + string(pinned)
			}
		default:
			role = string(p.Role)
		}

		fmt.Fprintf(tw, "%s%d\t%s\t%s\n", marker, i+1, p.Name, role)
	}
	_ = tw.Flush()

	if c.s.IsHost() && st.Status == StatusLobby {
		imp, det := c.s.RoleCounts()
		fmt.Fprintf(c.out, "impostors %d, detectives %d\n", imp, det)
	}
}

func (c *console) pick(arg string) (Player, error) {
	st, ok := c.s.State()
	if !ok {
		return Player{}, ErrSessionClosed
	}

	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(st.Players) {
		return Player{}, fmt.Errorf("%w: %q", ErrUnknownPlayer, arg)
	}

	return st.Players[n-1], nil
}

func (c *console) exec(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	if c.s.IsHost() {
		return c.execHost(ctx, cmd, args)
	}
	return c.execGuest(ctx, cmd, args)
}

func (c *console) execHost(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "add":
		_, err := c.s.AddPlayer(strings.Join(args, " "))
		return false, err
	case "remove":
		if len(args) != 1 {
			return false, errors.New("usage: remove <n>")
		}
		p, err := c.pick(args[0])
		if err != nil {
			return false, err
		}
		return false, c.s.RemovePlayer(p.ID)
	case "impostors", "detectives":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: %s <n>", cmd)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("not a number: %q", args[0])
		}
		imp, det := c.s.RoleCounts()
		if cmd == "impostors" {
			imp = n
		} else {
			det = n
		}
		if err := c.s.SetRoleCounts(imp, det); err != nil {
			return false, err
		}
		imp, det = c.s.RoleCounts()
		fmt.Fprintf(c.out, "impostors %d, detectives %d\n", imp, det)
		return false, nil
	case "role":
		if len(args) != 2 {
			return false, errors.New("usage: role <n> <imp|det|ino|clear>")
		}
		p, err := c.pick(args[0])
		if err != nil {
			return false, err
		}
		if strings.EqualFold(args[1], "clear") {
			return false, c.s.ClearManualRole(p.ID)
		}
		role, ok := parseRole(strings.ToLower(args[1]))
		if !ok {
			return false, fmt.Errorf("%w: %q", ErrInvalidRole, args[1])
		}
		return false, c.s.SetManualRole(p.ID, role)
	case "start":
		return false, c.s.StartGame(ctx)
	case "emergency":
		return false, c.s.Emergency(ctx)
	case "clear":
		return false, c.s.ClearEmergency()
	case "end":
		return false, c.s.EndGame()
	case "show":
		if st, ok := c.s.State(); ok {
			c.render(st)
		}
		return false, nil
	case "share":
		return false, printShare(c.out, c.cfg, c.s.Address())
	case "reset", "quit":
		return true, nil
	case "help":
		fmt.Fprint(c.out, hostHelp)
		return false, nil
	}

	return false, fmt.Errorf("unknown command %q", cmd)
}

func (c *console) execGuest(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "claim":
		if len(args) != 1 {
			return false, errors.New("usage: claim <n>")
		}
		p, err := c.pick(args[0])
		if err != nil {
			return false, err
		}
		c.me = p.ID
		if c.store != nil {
			st, _ := c.s.State()
			if err := c.store.Save(st.MatchID, p.ID); err != nil {
				logf(c.cfg, "GAMES: Saving identity: %v", err)
			}
		}
		fmt.Fprintf(c.out, "You are %s\n", p.Name)
		return false, nil
	case "switch":
		c.me = ""
		if c.store != nil {
			return false, c.store.Clear()
		}
		return false, nil
	case "me":
		st, ok := c.s.State()
		if !ok {
			return false, ErrSessionClosed
		}
		p, _, found := st.player(c.me)
		if !found {
			return false, errors.New("no player claimed, use claim <n>")
		}
		if p.Role == "" {
			fmt.Fprintf(c.out, "%s: waiting for the host to start\n", p.Name)
			return false, nil
		}
		fmt.Fprintf(c.out, "%s: %s\nMission: %s\n", p.Name, p.Role, p.Mission)
		return false, nil
	case "emergency":
		if err := c.s.Emergency(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, "Emergency requested")
		return false, nil
	case "show":
		if st, ok := c.s.State(); ok {
			c.render(st)
		}
		return false, nil
	case "quit", "reset":
		return true, nil
	case "help":
		fmt.Fprint(c.out, guestHelp)
		return false, nil
	}

	return false, fmt.Errorf("unknown command %q", cmd)
}
