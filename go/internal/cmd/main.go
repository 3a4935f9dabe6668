package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fichas-one/fichas/go/internal/config"
)

var (
	cfgFile string
	cfg     config.Config
	logSink io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "fichas",
	Short: "Shared character sheets, monster roster and roll log for one table",
	Long: `fichas keeps every player's character sheet, the master's monster
roster and the roll log of a room in one shared store.

Players edit their own sheet and roll dice; the master can also adjust
counters, manage the roster and clear sheets or the log. The store can be
an in-process room, a NATS KeyValue bucket, a Postgres table or a relay
server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(cmd, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		sink, err := setupLogging(cfg)
		if err != nil {
			return err
		}
		logSink = sink
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logSink != nil {
			if err := logSink.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close log file")
			}
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	flags.String("store", "", "store backend: memory, nats, postgres or relay")
	flags.String("room", "", "room name")
	flags.String("player", "", "local player ID (random when empty)")
	flags.String("role", "", "local role: participant or owner")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
