package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alec-deason/cascade/internal/session"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <engine.db>",
		Short: "Show where the session on an engine file stands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			rec, err := loadRecordFor(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(rec)
			}
			fmt.Fprintf(out, "state:        %s\n", rec.State)
			fmt.Fprintf(out, "last command: %s\n", valueOrDefault(rec.LastCommand, "(none)"))
			if rec.SimulateCount > 0 {
				fmt.Fprintf(out, "simulations:  %d\n", rec.SimulateCount)
			}
			if !rec.UpdatedAt.IsZero() {
				fmt.Fprintf(out, "updated:      %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			options := rec.Options.Map()
			for _, name := range sortedKeys(options) {
				fmt.Fprintf(out, "option:       %s = %s\n", name, options[name])
			}
			return nil
		},
	}
}

func loadRecordFor(path string) (session.Record, error) {
	rec, err := session.LoadRecord(path)
	if err != nil {
		return session.Record{}, fmt.Errorf("failed to read session record: %w", err)
	}
	return rec, nil
}

// valueOrDefault returns the value if non-empty, otherwise the default.
func valueOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}
