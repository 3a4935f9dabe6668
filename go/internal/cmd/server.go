package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fichas-one/fichas/go/internal/config"
	"github.com/fichas-one/fichas/go/internal/relay"
)

var errRelayLoop = errors.New("relay cannot serve a relay store")

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Serve the room store to remote clients over WebSocket",
	Long: `Serve the configured store at ws://<host>:<port>/ws. Clients use it
with --store relay. With --store memory the relay itself holds the room.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRelay(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}

func serveRelay(ctx context.Context, c config.Config) error {
	if c.Store == config.StoreRelay {
		return errRelayLoop
	}

	backend, err := openStore(ctx, c)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close store")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	hub := relay.NewHub(backend, relay.DefaultConnectionConfig())
	if err := hub.Start(gctx); err != nil {
		return err
	}
	server := relay.NewServer(fmt.Sprintf(":%d", c.Relay.Port), hub)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("room", c.Room).Msg("relay listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("relay shutting down")
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
