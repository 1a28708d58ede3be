/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
)

func newSessionDeps(cfg *Config) sessionDeps {
	if cfg.textEndpoint == "" {
		return sessionDeps{}
	}

	text := newHTTPText(cfg.textEndpoint)
	logf(cfg, "TEXT: Using %s for missions and alerts", cfg.textEndpoint)

	return sessionDeps{missions: text, alerts: text}
}

func runHost(ctx context.Context, cfg *Config, in io.Reader, out io.Writer) error {
	t, err := newWSTransport(cfg)
	if err != nil {
		return err
	}

	s, err := HostSession(ctx, cfg, t, newSessionDeps(cfg))
	if err != nil {
		return err
	}

	return supervise(ctx, cfg, s, nil, in, out)
}

func runJoin(ctx context.Context, cfg *Config, input string, in io.Reader, out io.Writer) error {
	store, err := newFileIdentityStore(cfg.identityFile)
	if err != nil {
		logf(cfg, "GAMES: Identity file unusable, claims will not be remembered: %v", err)
	}

	t, err := newWSTransport(cfg)
	if err != nil {
		return err
	}

	s, err := JoinSession(ctx, cfg, t, input, newSessionDeps(cfg))
	if err != nil {
		return err
	}

	var ids IdentityStore
	if store != nil {
		ids = store
	}

	return supervise(ctx, cfg, s, ids, in, out)
}

// supervise runs the console alongside a watcher that resets the session
// when ctx is cancelled.
func supervise(ctx context.Context, cfg *Config, s *Session, store IdentityStore, in io.Reader, out io.Writer) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return runConsole(ctx, cfg, s, store, in, out)
	})
	eg.Go(func() error {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.Done():
		}
		return nil
	})

	return eg.Wait()
}
