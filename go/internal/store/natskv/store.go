// Package natskv keeps a room in a NATS JetStream KeyValue bucket.
//
// Each room key is one bucket key holding the JSON encoding of its value.
// A Set touching several keys is applied key by key and is not atomic;
// watchers may observe the intermediate snapshots.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/fichas-one/fichas/go/internal/store"
)

// Config holds configuration for the KeyValue store
type Config struct {
	URL           string
	Bucket        string
	History       uint8
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default KeyValue store configuration
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Bucket:        "FICHAS_mesa",
		History:       1,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Store is a store.Store backed by a KeyValue bucket.
type Store struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	bucket string
}

// Connect dials NATS and opens (or creates) the bucket.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	s, err := Open(ctx, js, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.nc = nc
	return s, nil
}

// Open uses an existing JetStream context. Close will not close its
// connection.
func Open(ctx context.Context, js jetstream.JetStream, cfg Config) (*Store, error) {
	history := cfg.History
	if history == 0 {
		history = 1
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "fichas room metadata",
		History:     history,
	})
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", cfg.Bucket, err)
	}

	log.Info().Str("bucket", cfg.Bucket).Msg("using KeyValue bucket")
	return &Store{kv: kv, bucket: cfg.Bucket}, nil
}

// Close closes the NATS connection opened by Connect.
func (s *Store) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

// GetAll implements store.Store.
func (s *Store) GetAll(ctx context.Context) (store.Snapshot, error) {
	w, err := s.kv.WatchAll(ctx, jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("watch bucket %s: %w", s.bucket, err)
	}
	defer func() {
		if err := w.Stop(); err != nil {
			log.Debug().Err(err).Msg("failed to stop KeyValue watcher")
		}
	}()

	m := newMirror()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-w.Updates():
			if !ok {
				return nil, store.ErrClosed
			}
			if entry == nil {
				return m.snapshot(), nil
			}
			m.apply(entry)
		}
	}
}

// Set implements store.Store.
func (s *Store) Set(ctx context.Context, patch store.Patch) error {
	for key, value := range patch {
		if value == nil {
			if err := s.kv.Delete(ctx, key); err != nil {
				return wrapKeyErr("delete", key, err)
			}
			continue
		}
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		if _, err := s.kv.Put(ctx, key, data); err != nil {
			return wrapKeyErr("put", key, err)
		}
	}
	return nil
}

// Watch implements store.Store. The first snapshot is sent once the
// bucket's current contents have been replayed.
func (s *Store) Watch(ctx context.Context) (<-chan store.Snapshot, error) {
	w, err := s.kv.WatchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("watch bucket %s: %w", s.bucket, err)
	}

	out := make(chan store.Snapshot, store.WatchBuffer)
	go func() {
		defer close(out)
		defer func() {
			if err := w.Stop(); err != nil {
				log.Debug().Err(err).Msg("failed to stop KeyValue watcher")
			}
		}()

		m := newMirror()
		replayed := false
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-w.Updates():
				if !ok {
					log.Warn().Str("bucket", s.bucket).Msg("KeyValue watcher closed")
					return
				}
				if entry == nil {
					replayed = true
				} else {
					m.apply(entry)
				}
				if replayed {
					store.Offer(out, m.snapshot())
				}
			}
		}
	}()
	return out, nil
}

func wrapKeyErr(op, key string, err error) error {
	if errors.Is(err, jetstream.ErrInvalidKey) {
		return fmt.Errorf("%s %s: %w", op, key, store.ErrInvalidKey)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}
