/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	peerHeader    = "X-Hiddenroles-Peer"
	sendQueueSize = 16
	eventsBuffer  = 64
)

// wsTransport registers with a rendezvous broker and carries peer traffic
// over direct websockets. Hosts accept on a local listener; guests dial the
// URL the broker hands back.
type wsTransport struct {
	cfg    *Config
	broker *url.URL
	client *http.Client

	events  chan TransportEvent
	done    chan struct{}
	destroy sync.Once

	mu        sync.Mutex
	address   string
	advertise string
	reg       *websocket.Conn
	srv       *http.Server
	conns     map[string]*peerConn
}

func newWSTransport(cfg *Config) (*wsTransport, error) {
	broker, err := url.Parse(cfg.broker)
	if err != nil {
		return nil, fmt.Errorf("parsing broker url: %w", err)
	}
	if broker.Scheme != "http" && broker.Scheme != "https" {
		return nil, fmt.Errorf("broker url must be http or https: %s", cfg.broker)
	}

	return &wsTransport{
		cfg:    cfg,
		broker: broker,
		client: &http.Client{Timeout: timeout},
		events: make(chan TransportEvent, eventsBuffer),
		done:   make(chan struct{}),
		conns:  make(map[string]*peerConn),
	}, nil
}

func (t *wsTransport) Events() <-chan TransportEvent {
	return t.events
}

func (t *wsTransport) emit(ev TransportEvent) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

func (t *wsTransport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *wsTransport) socketURL(elem ...string) *url.URL {
	u := t.broker.JoinPath(elem...)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u
}

// listen starts the inbound listener once; a retried Open reuses it.
func (t *wsTransport) listen() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.srv != nil {
		return t.advertise, nil
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(t.cfg.peerBind, strconv.Itoa(t.cfg.peerPort)))
	if err != nil {
		return "", fmt.Errorf("listening for peers: %w", err)
	}

	host := t.cfg.advertise
	if host == "" {
		host = t.cfg.peerBind
		if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
			host = "127.0.0.1"
		}
	}
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)

	mux := httprouter.New()
	mux.GET("/peer", t.serveInbound)

	t.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: timeout,
	}
	t.advertise = (&url.URL{Scheme: "ws", Host: net.JoinHostPort(host, port), Path: "/peer"}).String()

	go func() {
		if err := t.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logf(t.cfg, "PEERS: Listener stopped: %v", err)
		}
	}()

	logf(t.cfg, "PEERS: Accepting peers on %s", t.advertise)

	return t.advertise, nil
}

func (t *wsTransport) Open(ctx context.Context, preferred string, listen bool) (string, error) {
	if t.closed() {
		return "", ErrTransportClosed
	}

	var advertise string
	if listen {
		var err error
		if advertise, err = t.listen(); err != nil {
			return "", err
		}
	}

	elem := []string{"register"}
	if preferred != "" {
		elem = append(elem, preferred)
	}
	u := t.socketURL(elem...)
	if advertise != "" {
		q := u.Query()
		q.Set("advertise", advertise)
		u.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return "", fmt.Errorf("%w: %s", ErrAddressUnavailable, preferred)
		}
		return "", fmt.Errorf("registering with broker: %w", err)
	}

	var msg brokerMessage
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "open" || msg.ID == "" {
		conn.Close()
		return "", fmt.Errorf("registering with broker: no open message: %v", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	t.mu.Lock()
	if t.reg != nil {
		t.reg.Close()
	}
	t.reg = conn
	t.address = msg.ID
	t.mu.Unlock()

	go t.watchRegistration(conn)

	logf(t.cfg, "PEERS: Registered as %s", msg.ID)

	return msg.ID, nil
}

// watchRegistration keeps the broker link answering pings. Losing it only
// stops new peers from finding us; existing conns are unaffected.
func (t *wsTransport) watchRegistration(conn *websocket.Conn) {
	keepAlive(conn, t.cfg.keepalive, t.done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !t.closed() {
				logf(t.cfg, "PEERS: Broker registration lost: %v", err)
			}
			return
		}
	}
}

func (t *wsTransport) resolve(ctx context.Context, address string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.broker.JoinPath("lookup", address).String(), nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lookup %s: %s", address, resp.Status)
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("lookup %s: %w", address, err)
	}

	return out.URL, nil
}

func (t *wsTransport) Connect(ctx context.Context, address string) (Conn, error) {
	if t.closed() {
		return nil, ErrTransportClosed
	}

	t.mu.Lock()
	self := t.address
	t.mu.Unlock()

	dial := func() (*websocket.Conn, error) {
		target, err := t.resolve(ctx, address)
		if err != nil {
			return nil, err
		}

		header := http.Header{}
		if self != "" {
			header.Set(peerHeader, self)
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, header)
		return conn, err
	}

	conn, err := backoff.Retry(ctx, dial,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(max(t.cfg.connectAttempts, 1))),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, address, err)
	}

	c := t.adopt(conn, address)
	if c == nil {
		return nil, ErrTransportClosed
	}
	go c.writePump()
	t.emit(TransportEvent{Kind: EventReady, Conn: c})
	go c.readPump()

	logf(t.cfg, "PEERS: Connected to %s", address)

	return c, nil
}

func (t *wsTransport) serveInbound(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if t.closed() {
		http.Error(w, "endpoint closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logf(t.cfg, "PEERS: Upgrade failed for %s: %v", realIP(r), err)
		return
	}

	c := t.adopt(conn, r.Header.Get(peerHeader))
	if c == nil {
		return
	}

	logf(t.cfg, "PEERS: Inbound %s from %s", c.id, realIP(r))

	t.emit(TransportEvent{Kind: EventIncoming, Conn: c})
	go c.writePump()
	t.emit(TransportEvent{Kind: EventReady, Conn: c})
	c.readPump()
}

func (t *wsTransport) adopt(conn *websocket.Conn, peer string) *peerConn {
	c := &peerConn{
		t:    t,
		id:   uuid.NewString(),
		peer: peer,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed() {
		conn.Close()
		return nil
	}
	t.conns[c.id] = c

	return c
}

func (t *wsTransport) forget(c *peerConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.conns, c.id)
}

func (t *wsTransport) Destroy() {
	t.destroy.Do(func() {
		close(t.done)

		t.mu.Lock()
		reg := t.reg
		srv := t.srv
		conns := make([]*peerConn, 0, len(t.conns))
		for _, c := range t.conns {
			conns = append(conns, c)
		}
		t.mu.Unlock()

		for _, c := range conns {
			c.Close()
		}
		if reg != nil {
			_ = reg.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			reg.Close()
		}
		if srv != nil {
			_ = srv.Close()
		}

		logf(t.cfg, "PEERS: Endpoint destroyed")
	})
}

type peerConn struct {
	t    *wsTransport
	id   string
	peer string
	conn *websocket.Conn

	send     chan []byte
	done     chan struct{}
	once     sync.Once
	shutdown atomic.Bool
}

func (c *peerConn) ID() string {
	return c.id
}

func (c *peerConn) Peer() string {
	return c.peer
}

func (c *peerConn) Send(data []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: %s is closed", ErrSendFailed, c.id)
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: %s queue full", ErrSendFailed, c.id)
	}
}

// Close sends a normal close frame; the read pump then reports EventClosed.
func (c *peerConn) Close() {
	if !c.shutdown.CompareAndSwap(false, true) {
		return
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// finish emits the conn's one terminal event.
func (c *peerConn) finish(err error) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		c.t.forget(c)

		ev := TransportEvent{Kind: EventClosed, Conn: c}
		if !c.shutdown.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			ev = TransportEvent{Kind: EventError, Conn: c, Err: err}
		}
		c.t.emit(ev)

		logf(c.t.cfg, "PEERS: Conn %s %s: %v", c.id, ev.Kind, err)
	})
}

func (c *peerConn) readPump() {
	keepAlive(c.conn, c.t.cfg.keepalive, c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		c.t.emit(TransportEvent{Kind: EventMessage, Conn: c, Data: data})
	}
}

func (c *peerConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.finish(err)
				return
			}
		}
	}
}
