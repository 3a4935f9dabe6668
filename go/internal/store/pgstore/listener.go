package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// RefreshFunc re-reads the room after a change may have happened.
type RefreshFunc func(ctx context.Context) error

// Listener turns Postgres notifications for one room into refreshes.
type Listener struct {
	listener *pq.Listener
	refresh  RefreshFunc
	cfg      Config
}

func NewListener(cfg Config, refresh RefreshFunc) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Str("room", cfg.Room).
		Msg("listening for notifications")

	return &Listener{
		listener: l,
		refresh:  refresh,
		cfg:      cfg,
	}, nil
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("listener started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if !l.shouldRefresh(note) {
				continue
			}
			if err := l.refresh(ctx); err != nil {
				log.Error().Err(err).Msg("failed to refresh room")
			}
		case <-fallbackTicker.C:
			if err := l.refresh(ctx); err != nil {
				log.Error().Err(err).Msg("failed to refresh room")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

// shouldRefresh reports whether note may have changed this room. A nil
// notification means the connection was re-established and changes may
// have been missed.
func (l *Listener) shouldRefresh(note *pq.Notification) bool {
	if note == nil {
		return true
	}
	return note.Channel == l.cfg.NotifyChannel && note.Extra == l.cfg.Room
}
