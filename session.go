/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxCodeAttempts = 32

var errUnchanged = errors.New("unchanged")

// Mutation computes the next canonical state. Returning false is the null
// result: nothing changes and nothing is broadcast.
type Mutation func(GameState) (GameState, bool)

// Notice is something the user should see but that does not end the session
// on its own.
type Notice struct {
	Err  error
	Text string
	At   time.Time
}

type fanout struct {
	attempted int
	failed    int
}

type sessionDeps struct {
	clock    Clock
	missions MissionWriter
	alerts   AlertWriter
	rng      *mrand.Rand
	newCode  func() string
}

func (d sessionDeps) withDefaults() sessionDeps {
	if d.clock == nil {
		d.clock = realClock{}
	}
	if d.missions == nil {
		d.missions = fixedText{}
	}
	if d.alerts == nil {
		d.alerts = fixedText{}
	}
	if d.rng == nil {
		d.rng = newRand()
	}
	if d.newCode == nil {
		d.newCode = GenerateRoomCode
	}
	return d
}

// Session is one process's view of a game. It exclusively owns the
// transport, the connection set, the state and the timers; every change to
// them happens on the goroutine running run, so none of them need locks.
//
// On the host it holds the canonical GameState and pushes a full snapshot to
// every ready connection after each change. On a guest it holds a replica
// that each inbound snapshot replaces, and privileged actions are relayed to
// the host as requests.
type Session struct {
	cfg       *Config
	transport Transport
	deps      sessionDeps

	host    bool
	address string

	ctx    context.Context
	cancel context.CancelFunc

	calls   chan func()
	updates chan GameState
	notices chan Notice
	synced  chan struct{}
	done    chan struct{}
	err     error

	// owned by run
	ended      bool
	hasState   bool
	state      GameState
	pending    map[string]Conn
	conns      map[string]Conn
	upstream   Conn
	countsSet  bool
	impostors  int
	detectives int
	overrides  map[string]Role
	clearTimer Timer
	relaying   bool
}

func newSession(cfg *Config, t Transport, deps sessionDeps) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		transport: t,
		deps:      deps.withDefaults(),
		calls:     make(chan func()),
		updates:   make(chan GameState, 1),
		notices:   make(chan Notice, 16),
		synced:    make(chan struct{}),
		done:      make(chan struct{}),
		pending:   make(map[string]Conn),
		conns:     make(map[string]Conn),
		overrides: make(map[string]Role),
	}
}

// HostSession registers a fresh room address and starts an empty lobby. A
// taken code is replaced with a new one and the open is retried.
func HostSession(ctx context.Context, cfg *Config, t Transport, deps sessionDeps) (*Session, error) {
	s := newSession(cfg, t, deps)
	s.host = true

	var address string
	for attempt := 1; ; attempt++ {
		var err error
		address, err = t.Open(ctx, DeriveAddress(s.deps.newCode()), true)
		if err == nil {
			break
		}
		if errors.Is(err, ErrAddressUnavailable) && attempt < maxCodeAttempts && ctx.Err() == nil {
			logf(cfg, "GAMES: Room code collision (%v), retrying", err)
			continue
		}
		t.Destroy()
		return nil, err
	}

	s.address = address
	s.state = newGameState(ExtractCode(address))
	s.hasState = true
	close(s.synced)

	go s.run()

	logf(cfg, "GAMES: Hosting room %s", s.state.MatchID)

	return s, nil
}

// JoinSession connects to the room named by input and returns once the
// host's first snapshot has arrived.
func JoinSession(ctx context.Context, cfg *Config, t Transport, input string, deps sessionDeps) (*Session, error) {
	address, err := ParseJoinInput(input)
	if err != nil {
		t.Destroy()
		return nil, err
	}

	s := newSession(cfg, t, deps)
	s.address = address

	if _, err := t.Open(ctx, "", false); err != nil {
		t.Destroy()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	go s.run()

	if _, err := t.Connect(ctx, address); err != nil {
		s.Close()
		return nil, err
	}

	select {
	case <-s.synced:
		logf(cfg, "GAMES: Joined room %s", ExtractCode(address))
		return s, nil
	case <-s.done:
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, s.Err())
	case <-ctx.Done():
		s.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
}

func (s *Session) run() {
	events := s.transport.Events()

	for !s.ended {
		select {
		case fn := <-s.calls:
			fn()
		case ev := <-events:
			s.handleEvent(ev)
		}
	}
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})

	select {
	case s.calls <- func() { fn(); close(finished) }:
	case <-s.done:
		return ErrSessionClosed
	}

	<-finished

	return nil
}

// post queues fn without waiting; timers use it.
func (s *Session) post(fn func()) {
	select {
	case s.calls <- fn:
	case <-s.done:
	}
}

func (s *Session) end(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err

	if s.clearTimer != nil {
		s.clearTimer.Stop()
	}
	s.cancel()
	s.transport.Destroy()
	close(s.done)

	logf(s.cfg, "GAMES: Session %s ended: %v", s.address, err)
}

func (s *Session) notify(n Notice) {
	n.At = s.deps.clock.Now()

	select {
	case s.notices <- n:
	default:
	}
}

// publish hands the newest state to Updates, dropping any unread one.
func (s *Session) publish() {
	st := s.state.clone()

	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- st:
	default:
	}
}

func (s *Session) handleEvent(ev TransportEvent) {
	id := ev.Conn.ID()

	switch ev.Kind {
	case EventIncoming:
		if s.host {
			s.pending[id] = ev.Conn
		}
	case EventReady:
		delete(s.pending, id)
		if s.host {
			s.conns[id] = ev.Conn
			s.sendSnapshot(ev.Conn)
			logf(s.cfg, "GAMES: Peer %s joined %s (%d connected)", id, s.state.MatchID, len(s.conns))
			return
		}
		if s.upstream == nil {
			s.upstream = ev.Conn
		}
	case EventMessage:
		s.handleMessage(ev.Conn, ev.Data)
	case EventClosed, EventError:
		s.handleDisconnect(ev)
	}
}

// sendSnapshot is how a late joiner catches up: the full current state,
// never a replay.
func (s *Session) sendSnapshot(c Conn) {
	data, err := encodeState(s.state)
	if err != nil {
		logf(s.cfg, "GAMES: Encoding snapshot: %v", err)
		return
	}
	if err := c.Send(data); err != nil {
		s.evict(c, err)
	}
}

// evict closes a connection that missed a snapshot. The peer sees the link
// drop and can rejoin, which gets it a fresh snapshot.
func (s *Session) evict(c Conn, err error) {
	id := c.ID()

	delete(s.conns, id)
	delete(s.pending, id)
	c.Close()

	s.notify(Notice{Err: ErrPeerDisconnected, Text: fmt.Sprintf("peer %s dropped: %v", id, err)})
	logf(s.cfg, "GAMES: Dropped peer %s from %s (%d connected): %v", id, s.state.MatchID, len(s.conns), err)
}

func (s *Session) handleMessage(c Conn, data []byte) {
	env, err := decodeEnvelope(data)
	if err != nil {
		logf(s.cfg, "GAMES: Discarding message from %s: %v", c.ID(), err)
		return
	}

	switch {
	case s.host && env.Kind == KindRequest:
		req, err := env.request()
		if err != nil {
			logf(s.cfg, "GAMES: Discarding request from %s: %v", c.ID(), err)
			return
		}
		s.handleRequest(c, req)
	case !s.host && env.Kind == KindState:
		if s.upstream != nil && s.upstream.ID() != c.ID() {
			return
		}
		st, err := env.state()
		if err != nil {
			logf(s.cfg, "GAMES: Discarding snapshot: %v", err)
			return
		}
		s.replaceReplica(st)
	default:
		logf(s.cfg, "GAMES: Ignoring %s message from %s", env.Kind, c.ID())
	}
}

func (s *Session) replaceReplica(st GameState) {
	s.state = st
	if !s.hasState {
		s.hasState = true
		close(s.synced)
	}
	s.publish()
}

func (s *Session) handleRequest(c Conn, req Request) {
	switch req.Type {
	case RequestEmergency:
		if s.relaying {
			logf(s.cfg, "GAMES: Emergency request from %s dropped, one is already in flight", c.ID())
			return
		}
		logf(s.cfg, "GAMES: Emergency requested by %s", c.ID())
		s.relaying = true
		go s.relayEmergency()
	default:
		logf(s.cfg, "GAMES: Ignoring unknown request %q from %s", req.Type, c.ID())
	}
}

// relayEmergency runs one guest request off the session goroutine. A
// rejected request changes nothing; only the host is told.
func (s *Session) relayEmergency() {
	err := s.TriggerEmergency(s.ctx)

	s.post(func() {
		s.relaying = false
		if err != nil {
			s.notify(Notice{Err: err, Text: fmt.Sprintf("emergency request ignored: %v", err)})
			logf(s.cfg, "GAMES: Relayed emergency not applied: %v", err)
		}
	})
}

func (s *Session) handleDisconnect(ev TransportEvent) {
	id := ev.Conn.ID()

	if s.host {
		_, ready := s.conns[id]
		_, waiting := s.pending[id]
		delete(s.conns, id)
		delete(s.pending, id)
		if ready || waiting {
			s.notify(Notice{Err: ErrPeerDisconnected, Text: fmt.Sprintf("peer %s disconnected", id)})
			logf(s.cfg, "GAMES: Peer %s left %s (%d connected): %v", id, s.state.MatchID, len(s.conns), ev.Err)
		}
		return
	}

	if s.upstream == nil || s.upstream.ID() == id {
		s.notify(Notice{Err: ErrPeerDisconnected, Text: "lost connection to the host"})
		s.end(ErrPeerDisconnected)
	}
}

// applyAndBroadcast is the only path by which the canonical state changes.
// The mutation gets a private copy. Sends are fire-and-forget: a failing
// connection is evicted, and the new state stands regardless.
func (s *Session) applyAndBroadcast(m Mutation) (fanout, bool) {
	if !s.host {
		return fanout{}, false
	}

	next, ok := m(s.state.clone())
	if !ok {
		return fanout{}, false
	}

	s.state = next
	s.publish()

	return s.broadcast(), true
}

func (s *Session) broadcast() fanout {
	var out fanout

	data, err := encodeState(s.state)
	if err != nil {
		logf(s.cfg, "GAMES: Encoding snapshot: %v", err)
		return out
	}

	for _, c := range s.conns {
		out.attempted++
		if err := c.Send(data); err != nil {
			out.failed++
			s.evict(c, err)
		}
	}

	logf(s.cfg, "GAMES: Snapshot of %s (%s) sent to %d of %d peers",
		s.state.MatchID, humanReadableSize(int64(len(data))), out.attempted-out.failed, out.attempted)

	return out
}

// mutate runs m through applyAndBroadcast and reports m's error, if any.
func (s *Session) mutate(m func(GameState) (GameState, error)) error {
	var opErr error

	err := s.do(func() {
		if !s.host {
			opErr = ErrNotHost
			return
		}
		s.applyAndBroadcast(func(st GameState) (GameState, bool) {
			next, err := m(st)
			if err != nil {
				if !errors.Is(err, errUnchanged) {
					opErr = err
				}
				return st, false
			}
			return next, true
		})
	})
	if err != nil {
		return err
	}

	return opErr
}

func (s *Session) AddPlayer(name string) (Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Player{}, ErrEmptyName
	}

	p := Player{ID: uuid.NewString(), Name: name, IsAlive: true}

	err := s.mutate(func(st GameState) (GameState, error) {
		if st.Status != StatusLobby {
			return st, ErrNotInLobby
		}
		st.Players = append(st.Players, p)
		return st, nil
	})
	if err != nil {
		return Player{}, err
	}

	logf(s.cfg, "GAMES: Player %q added to %s", name, s.address)

	return p, nil
}

func (s *Session) RemovePlayer(id string) error {
	return s.mutate(func(st GameState) (GameState, error) {
		if st.Status != StatusLobby {
			return st, ErrNotInLobby
		}
		_, i, ok := st.player(id)
		if !ok {
			return st, ErrUnknownPlayer
		}
		st.Players = append(st.Players[:i], st.Players[i+1:]...)
		delete(s.overrides, id)
		return st, nil
	})
}

// SetRoleCounts stores the requested impostor and detective counts. They are
// clamped against the roster when the game starts.
func (s *Session) SetRoleCounts(impostors, detectives int) error {
	if impostors < 0 || detectives < 0 {
		return fmt.Errorf("%w: negative role count", ErrInvalidRole)
	}

	var opErr error
	err := s.do(func() {
		if !s.host {
			opErr = ErrNotHost
			return
		}
		s.countsSet = true
		s.impostors, s.detectives = impostors, detectives
	})
	if err != nil {
		return err
	}

	return opErr
}

// RoleCounts returns the counts StartGame would use for the current roster.
func (s *Session) RoleCounts() (impostors, detectives int) {
	_ = s.do(func() {
		impostors, detectives = s.effectiveCounts()
	})
	return impostors, detectives
}

func (s *Session) effectiveCounts() (int, int) {
	n := len(s.state.Players)

	imp, det := DefaultRoleCounts(n)
	if s.countsSet {
		imp, det = s.impostors, s.detectives
	}

	return ClampRoleCounts(n, imp, det)
}

// SetManualRole pins a role for one player ahead of the random draw.
func (s *Session) SetManualRole(id string, role Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}

	var opErr error
	err := s.do(func() {
		switch {
		case !s.host:
			opErr = ErrNotHost
		case s.state.Status != StatusLobby:
			opErr = ErrNotInLobby
		default:
			if _, _, ok := s.state.player(id); !ok {
				opErr = ErrUnknownPlayer
				return
			}
			s.overrides[id] = role
		}
	})
	if err != nil {
		return err
	}

	return opErr
}

func (s *Session) ClearManualRole(id string) error {
	var opErr error
	err := s.do(func() {
		if !s.host {
			opErr = ErrNotHost
			return
		}
		delete(s.overrides, id)
	})
	if err != nil {
		return err
	}

	return opErr
}

func (s *Session) ManualRoles() map[string]Role {
	var out map[string]Role
	_ = s.do(func() {
		out = maps.Clone(s.overrides)
	})
	return out
}

// StartGame assigns roles, asks the mission writer for missions and moves
// the lobby into play. The mission call runs off the session goroutine; if
// the roster changes meanwhile the start is abandoned with ErrRosterChanged.
func (s *Session) StartGame(ctx context.Context) error {
	var (
		roster []Player
		opErr  error
	)

	err := s.do(func() {
		switch {
		case !s.host:
			opErr = ErrNotHost
		case s.state.Status != StatusLobby:
			opErr = ErrNotInLobby
		case len(s.state.Players) < MinPlayers:
			opErr = ErrTooFewPlayers
		default:
			imp, det := s.effectiveCounts()
			roster = AssignRoles(s.state.Players, imp, det, s.overrides, s.deps.rng)
		}
	})
	if err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}

	missions := s.writeMissions(ctx, roster)

	err = s.mutate(func(st GameState) (GameState, error) {
		if !sameRoster(st.Players, roster) {
			return st, ErrRosterChanged
		}
		return StartGame(st, AttachMissions(roster, missions), s.deps.clock.Now())
	})
	if err != nil {
		return err
	}

	logf(s.cfg, "GAMES: Room %s started with %d players", ExtractCode(s.address), len(roster))

	return nil
}

func sameRoster(a, b []Player) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}

// textContext bounds a mission or alert writer call by the text timeout.
func (s *Session) textContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.textTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.textTimeout)
}

func (s *Session) writeMissions(ctx context.Context, roster []Player) map[string]string {
	ctx, cancel := s.textContext(ctx)
	defer cancel()

	briefs := make([]MissionBrief, 0, len(roster))
	for _, p := range roster {
		briefs = append(briefs, MissionBrief{ID: p.ID, Name: p.Name, Role: p.Role})
	}

	missions, err := s.deps.missions.WriteMissions(ctx, briefs)
	if err != nil {
		logf(s.cfg, "TEXT: Mission writer failed, using fallback missions: %v", err)
		return nil
	}

	return missions
}

func (s *Session) writeAlert(ctx context.Context) string {
	ctx, cancel := s.textContext(ctx)
	defer cancel()

	msg, err := s.deps.alerts.WriteAlert(ctx)
	if err != nil || strings.TrimSpace(msg) == "" {
		logf(s.cfg, "TEXT: Alert writer failed, using fallback alert: %v", err)
		return fallbackAlert
	}

	return msg
}

// TriggerEmergency raises an alert on the host and schedules its automatic
// clear. Within EmergencyCooldown of the last alert it returns
// ErrEmergencyCooldown and changes nothing.
func (s *Session) TriggerEmergency(ctx context.Context) error {
	var opErr error
	err := s.do(func() {
		switch {
		case !s.host:
			opErr = ErrNotHost
		case s.state.Status != StatusActive:
			opErr = ErrNotActive
		default:
			_, opErr = TriggerEmergency(s.state, s.deps.clock.Now(), "")
		}
	})
	if err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}

	msg := s.writeAlert(ctx)

	return s.mutate(func(st GameState) (GameState, error) {
		if st.Status != StatusActive {
			return st, ErrNotActive
		}
		next, err := TriggerEmergency(st, s.deps.clock.Now(), msg)
		if err != nil {
			return st, err
		}
		s.scheduleClear(next.LastEmergencyTime)
		logf(s.cfg, "GAMES: Emergency raised in %s", st.MatchID)
		return next, nil
	})
}

func (s *Session) scheduleClear(raisedAt time.Time) {
	if s.clearTimer != nil {
		s.clearTimer.Stop()
	}
	s.clearTimer = s.deps.clock.AfterFunc(EmergencyDuration, func() {
		s.post(func() {
			s.applyAndBroadcast(func(st GameState) (GameState, bool) {
				if !st.IsEmergency || !st.LastEmergencyTime.Equal(raisedAt) {
					return st, false
				}
				return ClearEmergency(st), true
			})
		})
	})
}

// RequestEmergency asks the host to raise an alert. There is no reply; the
// alert shows up in a later snapshot or not at all.
func (s *Session) RequestEmergency() error {
	data, err := encodeRequest(Request{Type: RequestEmergency})
	if err != nil {
		return err
	}

	var opErr error
	err = s.do(func() {
		switch {
		case s.host:
			opErr = ErrHostRaisesDirectly
		case s.upstream == nil:
			opErr = ErrSessionClosed
		default:
			opErr = s.upstream.Send(data)
		}
	})
	if err != nil {
		return err
	}

	return opErr
}

// Emergency raises the alert directly on the host and relays a request from
// a guest.
func (s *Session) Emergency(ctx context.Context) error {
	if s.host {
		return s.TriggerEmergency(ctx)
	}
	return s.RequestEmergency()
}

func (s *Session) ClearEmergency() error {
	return s.mutate(func(st GameState) (GameState, error) {
		if !st.IsEmergency {
			return st, errUnchanged
		}
		return ClearEmergency(st), nil
	})
}

func (s *Session) EndGame() error {
	return s.mutate(func(st GameState) (GameState, error) {
		next, err := EndGame(st)
		if err != nil {
			return st, err
		}
		if s.clearTimer != nil {
			s.clearTimer.Stop()
		}
		return next, nil
	})
}

// Close resets the session: the transport is destroyed, which closes every
// connection, and the state is dropped. Safe to call more than once.
func (s *Session) Close() {
	_ = s.do(func() {
		s.end(nil)
	})
}

// State returns a copy of the current state, or false before a guest has
// received its first snapshot or after the session ended.
func (s *Session) State() (GameState, bool) {
	var (
		st GameState
		ok bool
	)
	_ = s.do(func() {
		st, ok = s.state.clone(), s.hasState
	})
	return st, ok
}

// Connections counts the guests currently in the host's broadcast set.
func (s *Session) Connections() int {
	var n int
	_ = s.do(func() {
		n = len(s.conns)
	})
	return n
}

func (s *Session) IsHost() bool {
	return s.host
}

func (s *Session) Address() string {
	return s.address
}

func (s *Session) Updates() <-chan GameState {
	return s.updates
}

func (s *Session) Notices() <-chan Notice {
	return s.notices
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}
