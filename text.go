/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const fallbackAlert = "EMERGENCY MEETING! Everyone to the main room!"

func fallbackMission(role Role) string {
	switch role {
	case RoleImpostor:
		return "Blend in and don't get caught."
	case RoleDetective:
		return "Watch everyone closely."
	default:
		return "Finish your tasks quietly."
	}
}

// MissionBrief is what a mission writer gets to see about a player.
type MissionBrief struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// MissionWriter returns secret missions keyed by player id.
type MissionWriter interface {
	WriteMissions(ctx context.Context, players []MissionBrief) (map[string]string, error)
}

// AlertWriter returns the announcement shown while an emergency is active.
type AlertWriter interface {
	WriteAlert(ctx context.Context) (string, error)
}

// fixedText serves the fallback wording. It is what runs when no text
// endpoint is configured.
type fixedText struct{}

func (fixedText) WriteMissions(_ context.Context, players []MissionBrief) (map[string]string, error) {
	missions := make(map[string]string, len(players))
	for _, p := range players {
		missions[p.ID] = fallbackMission(p.Role)
	}
	return missions, nil
}

func (fixedText) WriteAlert(context.Context) (string, error) {
	return fallbackAlert, nil
}

// httpText asks a JSON endpoint for generated text:
//
//	POST {endpoint}/missions  [{"id","name","role"}]  -> {"<id>": "<mission>"}
//	POST {endpoint}/alert     {}                      -> {"text": "<alert>"}
type httpText struct {
	endpoint string
	client   *http.Client
}

func newHTTPText(endpoint string) *httpText {
	return &httpText{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *httpText) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s returned %s", ErrExternalService, path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrExternalService, path, err)
	}

	return nil
}

func (t *httpText) WriteMissions(ctx context.Context, players []MissionBrief) (map[string]string, error) {
	missions := map[string]string{}
	if err := t.post(ctx, "/missions", players, &missions); err != nil {
		return nil, err
	}
	return missions, nil
}

func (t *httpText) WriteAlert(ctx context.Context) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := t.post(ctx, "/alert", struct{}{}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", fmt.Errorf("%w: empty alert", ErrExternalService)
	}
	return out.Text, nil
}
