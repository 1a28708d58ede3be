/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "context"

type EventKind int

const (
	// EventIncoming fires when a peer dials in; the conn may not accept sends yet.
	EventIncoming EventKind = iota
	// EventReady fires once a conn is writable.
	EventReady
	// EventMessage carries one inbound frame. Order is kept per conn only.
	EventMessage
	// EventClosed and EventError are terminal; a conn gets exactly one of them.
	EventClosed
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventIncoming:
		return "incoming"
	case EventReady:
		return "ready"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	}
	return "unknown"
}

type TransportEvent struct {
	Kind EventKind
	Conn Conn
	Data []byte
	Err  error
}

// Conn is one peer link.
type Conn interface {
	ID() string
	// Peer is the remote endpoint's registered address, if it sent one.
	Peer() string
	// Send queues data and returns without waiting for delivery. There is
	// no acknowledgment and no retry.
	Send(data []byte) error
	Close()
}

// Transport is a process's single peer endpoint. All activity is reported
// on Events; nothing here blocks on a remote peer's behaviour except Open
// and Connect, which callers bound with ctx.
type Transport interface {
	// Open registers preferred, or a broker-assigned address when empty.
	// It fails with ErrAddressUnavailable when the address is taken. With
	// listen set, inbound connections are accepted.
	Open(ctx context.Context, preferred string, listen bool) (string, error)
	// Connect dials the peer registered under address, failing with
	// ErrConnectionFailed.
	Connect(ctx context.Context, address string) (Conn, error)
	Events() <-chan TransportEvent
	// Destroy tears down the endpoint and all its conns. Safe to call twice.
	Destroy()
}
