package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fichas-one/fichas/go/internal/config"
)

// loadConfig layers the command line flags over config.Load.
func loadConfig(cmd *cobra.Command, path string) (config.Config, error) {
	c, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	overrides := map[string]*string{
		"store":  &c.Store,
		"room":   &c.Room,
		"player": &c.PlayerID,
		"role":   &c.Role,
	}
	for name, dst := range overrides {
		if !cmd.Flags().Changed(name) {
			continue
		}
		v, err := cmd.Flags().GetString(name)
		if err != nil {
			return config.Config{}, err
		}
		*dst = v
	}

	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	return c, nil
}

// setupLogging points the global logger at stderr and, when configured, a
// rotating log file. The returned closer is nil without a file.
func setupLogging(c config.Config) (io.Closer, error) {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: log level %q", config.ErrInvalidConfig, c.Log.Level)
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{Out: os.Stderr}
	if c.Log.File == "" {
		log.Logger = log.Output(console)
		return nil, nil
	}

	file := &lumberjack.Logger{
		Filename:   c.Log.File,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, file)).
		With().
		Timestamp().
		Logger()
	return file, nil
}
