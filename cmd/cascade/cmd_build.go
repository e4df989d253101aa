package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alec-deason/cascade/internal/data"
	"github.com/alec-deason/cascade/internal/pathutil"
	"github.com/alec-deason/cascade/internal/session"
	"github.com/alec-deason/cascade/internal/store"
)

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <model.yaml> <data.csv> <engine.db>",
		Short: "Write a model and its data to an engine file without running the engine",
		Long: `Write the model, data and options to an engine file so the engine can be
run on it by hand.

Examples:
  cascade build model.yaml data.csv fit.db
  dmdismod fit.db init`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			env, err := newRunEnv(cmd)
			if err != nil {
				return err
			}
			defer env.close(cmd)
			ctx, cancel := env.context(cmd)
			defer cancel()

			mf, err := readModelFile(args[0])
			if err != nil {
				return err
			}
			m, err := mf.build()
			if err != nil {
				return err
			}
			raw, err := readFrame(args[1])
			if err != nil {
				return fmt.Errorf("reading data: %w", err)
			}
			measurements, err := data.Normalize(raw)
			if err != nil {
				return err
			}
			cvs, err := mf.minimumMeasCV()
			if err != nil {
				return err
			}

			if err := pathutil.CheckStoreFile(args[2]); err != nil {
				return err
			}
			st, err := store.Open(ctx, args[2], mf.locations(), mf.ParentLocation, env.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			options := env.cfg.Solver.Merge(mf.Options)
			st.SetModel(m)
			st.SetData(measurements)
			st.SetOptions(options.Map())
			for integrand, cv := range cvs {
				if err := st.SetMinimumMeasCV(integrand, cv); err != nil {
					return err
				}
			}
			if err := st.Flush(ctx); err != nil {
				return err
			}
			rec := session.Record{State: session.Configured, Options: options, RunID: env.modelLog.RunID(), UpdatedAt: time.Now().UTC()}
			if err := session.SaveRecord(args[2], rec); err != nil {
				return err
			}

			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"status":    "built",
					"path":      args[2],
					"variables": len(m.Vars()),
					"data_rows": measurements.Len(),
				})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d variables and %d data rows to %s\n",
					len(m.Vars()), measurements.Len(), args[2])
			}
			return nil
		},
	}
}
