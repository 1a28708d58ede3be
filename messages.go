/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"fmt"
)

type MessageKind string

const (
	KindState   MessageKind = "state"
	KindRequest MessageKind = "request"
)

type RequestType string

const (
	RequestEmergency RequestType = "REQUEST_EMERGENCY"
)

// Envelope wraps every frame on a peer link, so receivers dispatch on Kind
// instead of guessing from the payload's shape.
type Envelope struct {
	Kind    MessageKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Request asks the host to perform a privileged action. Nothing is sent
// back; the effect, if any, shows up in a later state broadcast.
type Request struct {
	Type    RequestType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encodeEnvelope(kind MessageKind, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: kind, Payload: raw})
}

func encodeState(state GameState) ([]byte, error) {
	return encodeEnvelope(KindState, state)
}

func encodeRequest(req Request) ([]byte, error) {
	return encodeEnvelope(KindRequest, req)
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	switch env.Kind {
	case KindState, KindRequest:
	default:
		return Envelope{}, fmt.Errorf("unknown message kind %q", env.Kind)
	}
	return env, nil
}

func (e Envelope) state() (GameState, error) {
	var state GameState
	if err := json.Unmarshal(e.Payload, &state); err != nil {
		return GameState{}, fmt.Errorf("decoding state: %w", err)
	}
	if state.Players == nil {
		state.Players = []Player{}
	}
	return state, nil
}

func (e Envelope) request() (Request, error) {
	var req Request
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		return Request{}, fmt.Errorf("decoding request: %w", err)
	}
	return req, nil
}
