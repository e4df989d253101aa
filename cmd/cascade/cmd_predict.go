package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPredictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict <model.yaml> <avgint.csv> <engine.db>",
		Short: "Predict integrands at the fitted variables",
		Long: `Evaluate the rows of avgint.csv at the variables of the last fit in the
engine file. Rows with a covariate further than max_difference from its
reference are not predicted and are written to --not-predicted.

Examples:
  cascade predict model.yaml avgint.csv fit.db --output predicted.csv`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			output, _ := cmd.Flags().GetString("output")
			skipped, _ := cmd.Flags().GetString("not-predicted")

			if err := snapshotBefore(cmd, args[2]); err != nil {
				return err
			}
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
			covariates, err := mf.covariates()
			if err != nil {
				return err
			}
			weights, err := mf.weights()
			if err != nil {
				return err
			}
			avgint, err := readFrame(args[1])
			if err != nil {
				return fmt.Errorf("reading avgint: %w", err)
			}
			s, err := env.openSession(ctx, mf, args[2], true)
			if err != nil {
				return err
			}
			defer s.Close()

			fit, err := s.Store().FitVar(ctx)
			if err != nil {
				return fmt.Errorf("reading the last fit: %w", err)
			}
			predicted, notPredicted, err := s.Predict(ctx, fit, avgint, mf.ParentLocation, weights, covariates)
			if err != nil {
				return err
			}

			if err := writeFrame(cmd, output, predicted); err != nil {
				return fmt.Errorf("writing predictions: %w", err)
			}
			if skipped != "" {
				if err := writeFrame(cmd, skipped, notPredicted); err != nil {
					return fmt.Errorf("writing skipped rows: %w", err)
				}
			}
			if output == "-" {
				return nil
			}
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"predicted":     predicted.Len(),
					"not_predicted": notPredicted.Len(),
				})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Predicted %d rows, %d not predicted\n", predicted.Len(), notPredicted.Len())
			}
			return nil
		},
	}
	cmd.Flags().String("output", "-", "Write predictions as CSV to this file (- for stdout)")
	cmd.Flags().String("not-predicted", "", "Write rows that were not predicted as CSV to this file")
	cmd.Flags().Bool("backup", false, "Snapshot the engine file before changing it")
	return cmd
}
