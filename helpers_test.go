/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testConfig() *Config {
	return &Config{
		broker:          "http://127.0.0.1:0",
		connectAttempts: 1,
		peerBind:        "127.0.0.1",
		textTimeout:     time.Second,
	}
}

func testDeps() sessionDeps {
	return sessionDeps{rng: mrand.New(mrand.NewPCG(1, 2))}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// memNetwork is an in-process stand-in for the broker plus direct links.
type memNetwork struct {
	mu    sync.Mutex
	peers map[string]*memTransport
}

func newMemNetwork() *memNetwork {
	return &memNetwork{peers: make(map[string]*memTransport)}
}

func (n *memNetwork) transport() *memTransport {
	return &memTransport{
		net:    n,
		events: make(chan TransportEvent, eventsBuffer),
		done:   make(chan struct{}),
		conns:  make(map[string]*memConn),
	}
}

type memTransport struct {
	net    *memNetwork
	events chan TransportEvent
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	address string
	listen  bool
	conns   map[string]*memConn
}

func (t *memTransport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *memTransport) emit(ev TransportEvent) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *memTransport) Events() <-chan TransportEvent {
	return t.events
}

func (t *memTransport) Open(_ context.Context, preferred string, listen bool) (string, error) {
	if t.closed() {
		return "", ErrTransportClosed
	}
	if preferred == "" {
		preferred = uuid.NewString()
	}

	t.net.mu.Lock()
	defer t.net.mu.Unlock()

	if _, taken := t.net.peers[preferred]; taken {
		return "", fmt.Errorf("%w: %s", ErrAddressUnavailable, preferred)
	}
	t.net.peers[preferred] = t

	t.mu.Lock()
	t.address, t.listen = preferred, listen
	t.mu.Unlock()

	return preferred, nil
}

func (t *memTransport) Connect(_ context.Context, address string) (Conn, error) {
	if t.closed() {
		return nil, ErrTransportClosed
	}

	t.net.mu.Lock()
	host := t.net.peers[address]
	t.net.mu.Unlock()

	if host == nil || host == t || host.closed() {
		return nil, fmt.Errorf("%w: %s", ErrConnectionFailed, address)
	}
	host.mu.Lock()
	listening := host.listen
	host.mu.Unlock()
	if !listening {
		return nil, fmt.Errorf("%w: %s", ErrConnectionFailed, address)
	}

	local := t.newConn(address)
	remote := host.newConn(t.address)
	local.remote, remote.remote = remote, local

	t.emit(TransportEvent{Kind: EventReady, Conn: local})
	host.emit(TransportEvent{Kind: EventIncoming, Conn: remote})
	host.emit(TransportEvent{Kind: EventReady, Conn: remote})

	go local.pump()
	go remote.pump()

	return local, nil
}

func (t *memTransport) newConn(peer string) *memConn {
	c := &memConn{
		id:    uuid.NewString(),
		peer:  peer,
		owner: t,
		inbox: make(chan []byte, 256),
		done:  make(chan struct{}),
	}

	t.mu.Lock()
	t.conns[c.id] = c
	t.mu.Unlock()

	return c
}

func (t *memTransport) Destroy() {
	t.once.Do(func() {
		close(t.done)

		t.mu.Lock()
		conns := make([]*memConn, 0, len(t.conns))
		for _, c := range t.conns {
			conns = append(conns, c)
		}
		address := t.address
		t.mu.Unlock()

		for _, c := range conns {
			c.Close()
		}

		t.net.mu.Lock()
		if t.net.peers[address] == t {
			delete(t.net.peers, address)
		}
		t.net.mu.Unlock()
	})
}

type memConn struct {
	id     string
	peer   string
	owner  *memTransport
	remote *memConn
	inbox  chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *memConn) ID() string   { return c.id }
func (c *memConn) Peer() string { return c.peer }

func (c *memConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrSendFailed
	case <-c.remote.done:
		return ErrSendFailed
	default:
	}

	select {
	case c.remote.inbox <- bytes.Clone(data):
		return nil
	default:
		return ErrSendFailed
	}
}

func (c *memConn) Close() {
	c.finish()
	c.remote.finish()
}

func (c *memConn) finish() {
	c.once.Do(func() {
		close(c.done)

		c.owner.mu.Lock()
		delete(c.owner.conns, c.id)
		c.owner.mu.Unlock()

		c.owner.emit(TransportEvent{Kind: EventClosed, Conn: c})
	})
}

func (c *memConn) pump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.inbox:
			c.owner.emit(TransportEvent{Kind: EventMessage, Conn: c, Data: data})
		}
	}
}

// stubConn records what it is sent and never delivers anything. With
// failures set, that many sends fail before it recovers.
type stubConn struct {
	id   string
	fail bool

	mu       sync.Mutex
	failures int
	sent     [][]byte
	closed   atomic.Bool
}

func (c *stubConn) ID() string   { return c.id }
func (c *stubConn) Peer() string { return "" }
func (c *stubConn) Close()       { c.closed.Store(true) }

func (c *stubConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fail {
		return errors.New("stub send failure")
	}
	if c.failures > 0 {
		c.failures--
		return fmt.Errorf("%w: stub queue full", ErrSendFailed)
	}

	c.sent = append(c.sent, data)

	return nil
}

func (c *stubConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.sent)
}

// manualClock only moves when Advance is called.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	c     *manualClock
	at    time.Time
	f     func()
	fired atomic.Bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)

	return t
}

func (t *manualTimer) Stop() bool {
	return t.fired.CompareAndSwap(false, true)
}

// Advance moves the clock forward and runs every timer that came due.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.at.After(c.now) && t.fired.CompareAndSwap(false, true) {
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// fakeText hands out fixed missions and alerts, or errors.
type fakeText struct {
	missions map[string]string
	alert    string
	err      error
}

func (f fakeText) WriteMissions(context.Context, []MissionBrief) (map[string]string, error) {
	return f.missions, f.err
}

func (f fakeText) WriteAlert(context.Context) (string, error) {
	return f.alert, f.err
}

type missionFunc func([]MissionBrief) map[string]string

func (f missionFunc) WriteMissions(_ context.Context, briefs []MissionBrief) (map[string]string, error) {
	return f(briefs), nil
}

// gatedText blocks in WriteMissions until released.
type gatedText struct {
	entered chan struct{}
	release chan struct{}
}

func (g gatedText) WriteMissions(ctx context.Context, _ []MissionBrief) (map[string]string, error) {
	close(g.entered)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}

// gatedAlert blocks in WriteAlert until released or cancelled.
type gatedAlert struct {
	calls     atomic.Int32
	release   chan struct{}
	cancelled chan struct{}
}

func newGatedAlert() *gatedAlert {
	return &gatedAlert{release: make(chan struct{}), cancelled: make(chan struct{})}
}

func (g *gatedAlert) WriteAlert(ctx context.Context) (string, error) {
	g.calls.Add(1)

	select {
	case <-g.release:
		return "Meeting in the kitchen", nil
	case <-ctx.Done():
		close(g.cancelled)
		return "", ctx.Err()
	}
}
