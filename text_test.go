/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPText(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /missions", func(w http.ResponseWriter, r *http.Request) {
		var briefs []MissionBrief
		if err := json.NewDecoder(r.Body).Decode(&briefs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := map[string]string{}
		for _, b := range briefs {
			out[b.ID] = b.Name + " the " + string(b.Role)
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST /alert", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"Lights out!"}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	text := newHTTPText(srv.URL + "/")

	missions, err := text.WriteMissions(context.Background(), []MissionBrief{
		{ID: "a", Name: "Ana", Role: RoleImpostor},
	})
	if err != nil {
		t.Fatal(err)
	}
	if missions["a"] != "Ana the IMPOSTOR" {
		t.Errorf("missions = %v", missions)
	}

	alert, err := text.WriteAlert(context.Background())
	if err != nil || alert != "Lights out!" {
		t.Errorf("alert = %q, %v", alert, err)
	}
}

func TestHTTPTextFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /missions", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("POST /alert", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"  "}`))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	text := newHTTPText(srv.URL)

	if _, err := text.WriteMissions(context.Background(), nil); !errors.Is(err, ErrExternalService) {
		t.Errorf("missions err = %v, want ErrExternalService", err)
	}
	if _, err := text.WriteAlert(context.Background()); !errors.Is(err, ErrExternalService) {
		t.Errorf("alert err = %v, want ErrExternalService", err)
	}

	srv.Close()
	if _, err := text.WriteAlert(context.Background()); !errors.Is(err, ErrExternalService) {
		t.Errorf("unreachable err = %v, want ErrExternalService", err)
	}
}

func TestFixedText(t *testing.T) {
	missions, _ := fixedText{}.WriteMissions(context.Background(), []MissionBrief{
		{ID: "a", Role: RoleDetective},
	})
	if missions["a"] != fallbackMission(RoleDetective) {
		t.Errorf("missions = %v", missions)
	}
	if alert, _ := (fixedText{}).WriteAlert(context.Background()); alert != fallbackAlert {
		t.Errorf("alert = %q", alert)
	}
}
