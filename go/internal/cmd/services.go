package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fichas-one/fichas/go/internal/config"
	"github.com/fichas-one/fichas/go/internal/debuglog"
	"github.com/fichas-one/fichas/go/internal/identity"
	"github.com/fichas-one/fichas/go/internal/synccore"
)

// Session is one started sync core and the store it talks to.
type Session struct {
	Core  *synccore.Core
	store closableStore
	cfg   config.Config
}

// openSession wires store → identity → core and starts the core.
func openSession(ctx context.Context, c config.Config) (*Session, error) {
	s, err := openStore(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	ident := identity.NewStatic(c.PlayerID, c.LocalRole())
	core := synccore.New(s, ident, synccore.Options{
		Debounce:     c.Debounce,
		RollDelay:    c.RollDelay,
		WriteTimeout: c.WriteTimeout,
		ReadTimeout:  c.ReadTimeout,
		DebugLog:     debuglog.New(c.Log.DebugLogSize, zerolog.WarnLevel),
	})
	if err := core.Start(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return &Session{Core: core, store: s, cfg: c}, nil
}

// Run applies snapshots in the background while fn runs, then flushes
// pending writes. Closing the session is left to the caller.
func (s *Session) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)

	g.Go(func() error {
		return s.Core.Run(runCtx)
	})
	g.Go(func() error {
		defer stop()
		fnErr := fn(runCtx)

		flushCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()
		if err := s.Core.Flush(flushCtx); err != nil {
			log.Error().Err(err).Msg("failed to flush pending writes")
			return errors.Join(fnErr, err)
		}
		return fnErr
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops the core and releases the store.
func (s *Session) Close() error {
	s.Core.Close()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

// withSession opens a session for the duration of fn.
func withSession(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session")
		}
	}()

	return s.Run(ctx, func(ctx context.Context) error {
		return fn(ctx, s)
	})
}
