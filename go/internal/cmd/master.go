package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var clearSheetsCmd = &cobra.Command{
	Use:   "clear-sheets",
	Short: "Delete every sheet in the room (master only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
			return s.Core.ClearAllSheets(ctx)
		})
	},
}

var adjustCmd = &cobra.Command{
	Use:     "adjust <player-id> <acoes>",
	Short:   "Set a player's action counter (master only)",
	Example: `  fichas adjust --role owner 3f2a 2`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid counter value %q: %w", args[1], err)
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
			return s.Core.AdjustOwnedCounter(ctx, args[0], value)
		})
	},
}

var clearHistoryCmd = &cobra.Command{
	Use:   "clear-history",
	Short: "Delete the roll log (master only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
			return s.Core.ClearHistory(ctx)
		})
	},
}

var monsterCmd = &cobra.Command{
	Use:   "monster",
	Short: "Manage the monster roster",
}

var monsterAddCmd = &cobra.Command{
	Use:   "add <name> <value>",
	Short: "Append a monster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid monster value %q: %w", args[1], err)
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
			return s.Core.AddMonster(ctx, args[0], value)
		})
	},
}

var monsterSetCmd = &cobra.Command{
	Use:   "set <index> <value>",
	Short: "Change a monster's value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, value, err := parseIndexValue(args[0], args[1])
		if err != nil {
			return err
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
			return s.Core.SetMonsterValue(ctx, index, value)
		})
	},
}

var monsterRemoveCmd = &cobra.Command{
	Use:     "rm <index>",
	Aliases: []string{"remove"},
	Short:   "Remove a monster",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid index %q: %w", args[0], err)
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
			return s.Core.RemoveMonster(ctx, index)
		})
	},
}

var monsterClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the roster",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
			return s.Core.ClearRoster(ctx)
		})
	},
}

func init() {
	monsterCmd.AddCommand(monsterAddCmd, monsterSetCmd, monsterRemoveCmd, monsterClearCmd)
	rootCmd.AddCommand(clearSheetsCmd, adjustCmd, clearHistoryCmd, monsterCmd)
}

func parseIndexValue(rawIndex, rawValue string) (int, int, error) {
	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid index %q: %w", rawIndex, err)
	}
	value, err := strconv.Atoi(rawValue)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid value %q: %w", rawValue, err)
	}
	return index, value, nil
}
