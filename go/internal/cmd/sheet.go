package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fichas-one/fichas/go/internal/models"
	"github.com/fichas-one/fichas/go/internal/synccore"
)

var errBadAssignment = errors.New("expected field=value")

var editCmd = &cobra.Command{
	Use:   "edit field=value...",
	Short: "Edit fields of your own sheet",
	Long: `Edit fields of the local player's sheet and persist them.

Known fields: nome, vida, mana, tipo, atributo, inventario.
Numbers below zero are stored as zero.`,
	Example: `  fichas edit nome=Aria vida=7 tipo=Conjurador`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseAssignments(args)
		if err != nil {
			return err
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
			if err := s.Core.SubmitLocalEdit(fields); err != nil {
				return err
			}
			printSheet(cmd.OutOrStdout(), s.Core.LocalSheet())
			return nil
		})
	},
}

var rollSides int

var rollCmd = &cobra.Command{
	Use:   "roll",
	Short: "Roll a die and record it on your sheet and in the log",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rollSides < 2 {
			return fmt.Errorf("a die needs at least 2 sides, got %d", rollSides)
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
			result, err := s.Core.Roll(ctx, rollCompute(s.Core, rollSides, rand.Intn))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			return nil
		})
	},
}

var watchDebug bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the room every time it changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *Session) error {
			out := cmd.OutOrStdout()
			printRoom(out, s.Core, watchDebug)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-s.Core.Changes():
					printRoom(out, s.Core, watchDebug)
				}
			}
		})
	},
}

func init() {
	rollCmd.Flags().IntVarP(&rollSides, "sides", "d", 20, "number of sides of the die")
	watchCmd.Flags().BoolVar(&watchDebug, "debug", false, "also print store failures and write counters")

	rootCmd.AddCommand(editCmd, rollCmd, watchCmd)
}

// parseAssignments turns field=value arguments into an edit. Values stay
// strings; the core normalizes them per field.
func parseAssignments(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", errBadAssignment, arg)
		}
		fields[name] = value
	}
	return fields, nil
}

// rollCompute returns the roll body for Core.Roll. intN is rand.IntN in
// production.
func rollCompute(core *synccore.Core, sides int, intN func(int) int) func() synccore.RollResult {
	return func() synccore.RollResult {
		n := intN(sides) + 1
		who := core.LocalSheet().Nome
		if who == "" {
			who = core.LocalID()
		}
		return synccore.RollResult{
			Result:  strconv.Itoa(n),
			Message: fmt.Sprintf("%s rolou %d", who, n),
		}
	}
}

func printSheet(w io.Writer, s models.Sheet) {
	fmt.Fprintf(w, "%s [%s]\n", displayName(s), s.OwnerID)
	fmt.Fprintf(w, "  vida %d  mana %d  %s/%s  acoes %d\n", s.Vida, s.Mana, s.Tipo, s.Atributo, s.Acoes)
	if s.Inventario != "" {
		fmt.Fprintf(w, "  inventario: %s\n", s.Inventario)
	}
	if len(s.Historico) > 0 {
		fmt.Fprintf(w, "  ultimo: %s  historico: %s\n", s.UltimoResultado, strings.Join(s.Historico, ", "))
	}
}

func printRoom(w io.Writer, core *synccore.Core, debug bool) {
	fmt.Fprintln(w, "== fichas ==")
	for _, s := range core.Sheets() {
		printSheet(w, s)
	}

	roster := core.Roster()
	if len(roster) > 0 {
		fmt.Fprintln(w, "== monstros ==")
		for i, m := range roster {
			fmt.Fprintf(w, "  %d. %s (%d)\n", i, m.Name, m.Value)
		}
	}

	logs := core.Logs()
	if len(logs) > 0 {
		fmt.Fprintln(w, "== rolagens ==")
		for _, l := range logs {
			fmt.Fprintf(w, "  %s: %s\n", l.Autor, l.Msg)
		}
	}

	if debug {
		st := core.Stats()
		fmt.Fprintf(w, "== debug == writes %d failed %d coalesced %d pending %v\n",
			st.Writes.Writes, st.Writes.WriteFailures, st.Writes.Coalesced, core.PendingFields())
		for _, e := range core.DebugLog() {
			fmt.Fprintf(w, "  %s %s %s %s\n", e.Time.Format("15:04:05"), e.Key, e.Message, e.Error)
		}
	}
	fmt.Fprintln(w)
}

func displayName(s models.Sheet) string {
	if s.Nome != "" {
		return s.Nome
	}
	return "(sem nome)"
}
