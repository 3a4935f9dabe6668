package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fichas-one/fichas/go/internal/config"
	"github.com/fichas-one/fichas/go/internal/relay"
	"github.com/fichas-one/fichas/go/internal/store"
	"github.com/fichas-one/fichas/go/internal/store/memstore"
	"github.com/fichas-one/fichas/go/internal/store/natskv"
	"github.com/fichas-one/fichas/go/internal/store/pgstore"
)

// closableStore is a store backend owned by the process.
type closableStore interface {
	store.Store
	Close() error
}

// openStore connects to the backend selected by c.Store.
func openStore(ctx context.Context, c config.Config) (closableStore, error) {
	log.Info().
		Str("store", c.Store).
		Str("room", c.Room).
		Msg("opening store")

	switch c.Store {
	case config.StoreMemory:
		log.Warn().Msg("memory store is local to this process")
		return memstore.NewRoom(), nil

	case config.StoreNATS:
		natsCfg := natskv.DefaultConfig()
		natsCfg.URL = c.NATS.URL
		natsCfg.Bucket = c.NATSBucket()
		s, err := natskv.Connect(ctx, natsCfg)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.StorePostgres:
		pgCfg := pgstore.DefaultConfig()
		pgCfg.DatabaseURL = c.DB.DSN()
		pgCfg.Room = c.Room
		s, err := pgstore.Open(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.StoreRelay:
		s, err := relay.Dial(ctx, c.Relay.URL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: unknown store %q", config.ErrInvalidConfig, c.Store)
}
