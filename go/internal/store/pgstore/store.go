// Package pgstore keeps rooms in a Postgres table and fans changes out
// with LISTEN/NOTIFY.
//
// Unlike the KeyValue backend a multi-key Set is applied in a single
// transaction, so watchers never see half of a patch.
package pgstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"

	"github.com/fichas-one/fichas/go/internal/sqlutil"
	"github.com/fichas-one/fichas/go/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_metadata (
    room       TEXT        NOT NULL,
    key        TEXT        NOT NULL,
    value      JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (room, key)
)`

const (
	selectRoom = `SELECT key, value FROM room_metadata WHERE room = $1`
	upsertKey  = `
INSERT INTO room_metadata (room, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (room, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	deleteKey  = `DELETE FROM room_metadata WHERE room = $1 AND key = $2`
	notifyRoom = `SELECT pg_notify($1, $2)`
)

// Config holds configuration for the Postgres store
type Config struct {
	DatabaseURL      string        // Postgres DSN for queries and LISTEN/NOTIFY
	Room             string        // Room stored by this client
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to re-read in case a notification was missed
	PingInterval     time.Duration
}

// DefaultConfig returns default Postgres store configuration
func DefaultConfig() Config {
	return Config{
		Room:             "mesa",
		NotifyChannel:    "fichas_room_changed",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Room == "" {
		c.Room = def.Room
	}
	if c.NotifyChannel == "" {
		c.NotifyChannel = def.NotifyChannel
	}
	if c.FallbackInterval <= 0 {
		c.FallbackInterval = def.FallbackInterval
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	return c
}

// Store is a store.Store backed by Postgres.
type Store struct {
	pool     *pgxpool.Pool
	cfg      Config
	listener *Listener

	mu       sync.Mutex
	watchers map[int]chan store.Snapshot
	nextID   int
	closed   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Open connects to Postgres, creates the table if needed and starts
// listening for room changes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	s := &Store{
		pool:     pool,
		cfg:      cfg,
		watchers: make(map[int]chan store.Snapshot),
		done:     make(chan struct{}),
	}

	l, err := NewListener(cfg, s.refresh)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.listener = l

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		if err := l.Start(runCtx); err != nil {
			log.Error().Err(err).Msg("room listener stopped")
		}
	}()

	log.Info().Str("room", cfg.Room).Msg("using Postgres room store")
	return s, nil
}

// Close stops the listener, closes every watch channel and the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.mu.Unlock()

	s.cancel()
	<-s.done
	s.pool.Close()
	return nil
}

// GetAll implements store.Store.
func (s *Store) GetAll(ctx context.Context) (store.Snapshot, error) {
	rows, err := s.pool.Query(ctx, selectRoom, s.cfg.Room)
	if err != nil {
		return nil, fmt.Errorf("failed to read room %s: %w", s.cfg.Room, err)
	}
	defer rows.Close()

	snap := make(store.Snapshot)
	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		v, err := sqlutil.FromNullJSON(pqtype.NullRawMessage{RawMessage: raw, Valid: raw != nil})
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping undecodable row")
			continue
		}
		if v != nil {
			snap[key] = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read room %s: %w", s.cfg.Room, err)
	}
	return snap, nil
}

// Set implements store.Store. The patch is applied in one transaction
// and a notification is sent when it commits.
func (s *Store) Set(ctx context.Context, patch store.Patch) error {
	for key := range patch {
		if key == "" {
			return store.ErrInvalidKey
		}
	}

	return sqlutil.Run(ctx, s.pool, func(tx pgx.Tx) error {
		for key, value := range patch {
			if value == nil {
				if _, err := tx.Exec(ctx, deleteKey, s.cfg.Room, key); err != nil {
					return fmt.Errorf("failed to delete %s: %w", key, err)
				}
				continue
			}
			msg, err := sqlutil.ToNullJSON(value)
			if err != nil {
				return fmt.Errorf("failed to encode %s: %w", key, err)
			}
			if _, err := tx.Exec(ctx, upsertKey, s.cfg.Room, key, msg); err != nil {
				return fmt.Errorf("failed to write %s: %w", key, err)
			}
		}
		if _, err := tx.Exec(ctx, notifyRoom, s.cfg.NotifyChannel, s.cfg.Room); err != nil {
			return fmt.Errorf("failed to notify: %w", err)
		}
		return nil
	})
}

// Watch implements store.Store.
func (s *Store) Watch(ctx context.Context) (<-chan store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	id := s.nextID
	s.nextID++
	ch := make(chan store.Snapshot, store.WatchBuffer)
	s.watchers[id] = ch

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.watchers[id]; ok {
			close(c)
			delete(s.watchers, id)
		}
	}()
	return ch, nil
}

// refresh re-reads the room and offers the result to every watcher. It is
// called by the listener on notifications, reconnects and fallback ticks.
func (s *Store) refresh(ctx context.Context) error {
	snap, err := s.GetAll(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		store.Offer(ch, snap.Clone())
	}
	return nil
}
