package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alec-deason/cascade/internal/constants"
	"github.com/alec-deason/cascade/internal/session"
)

func newFitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fit <model.yaml> <data.csv> <engine.db>",
		Short: "Fit a model to data",
		Long: `Write the model and data, run init and fit, and report the result.

Without --level, models with random effects fit both fixed and random effects
and other models fit fixed effects.

Examples:
  cascade fit model.yaml data.csv fit.db
  cascade fit model.yaml data.csv fit.db --level fixed --output fit_var.csv`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			level, _ := cmd.Flags().GetString("level")
			output, _ := cmd.Flags().GetString("output")

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
			m, err := mf.build()
			if err != nil {
				return err
			}
			measurements, err := readFrame(args[1])
			if err != nil {
				return fmt.Errorf("reading data: %w", err)
			}
			s, err := env.openSession(ctx, mf, args[2], false)
			if err != nil {
				return err
			}
			defer s.Close()

			var res *session.FitResult
			switch constants.FitLevel(level) {
			case "":
				res, err = s.Fit(ctx, m, measurements, nil)
			case constants.FitFixed:
				res, err = s.FitFixed(ctx, m, measurements, nil)
			case constants.FitRandom:
				res, err = s.FitRandom(ctx, m, measurements, nil)
			case constants.FitBoth:
				if !m.HasRandomEffects() {
					return fmt.Errorf("--level both needs random effects in the model")
				}
				res, err = s.Fit(ctx, m, measurements, nil)
			default:
				return fmt.Errorf("invalid level: %s (valid: fixed, random, both)", level)
			}
			if err != nil {
				return err
			}

			if output != "" {
				if err := writeFrame(cmd, output, varsFrame(res.Fit())); err != nil {
					return fmt.Errorf("writing fit: %w", err)
				}
			}
			residuals, err := res.DataResiduals(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				json.NewEncoder(out).Encode(map[string]any{
					"success":        res.Success(),
					"warnings":       res.Warnings(),
					"variables":      len(res.Fit()),
					"data_residuals": len(residuals),
				})
				return nil
			}
			if res.Success() {
				fmt.Fprintln(out, "Fit converged")
			} else {
				fmt.Fprintln(out, "Fit did not report an optimal solution")
			}
			for _, w := range res.Warnings() {
				fmt.Fprintf(out, "  warning: %s\n", w)
			}
			fmt.Fprintf(out, "%d variables, %d data rows fit\n", len(res.Fit()), len(residuals))
			return nil
		},
	}
	cmd.Flags().String("level", "", "Fit level: fixed, random or both")
	cmd.Flags().String("output", "", "Write fitted variables as CSV to this file (- for stdout)")
	cmd.Flags().Bool("backup", false, "Snapshot the engine file before changing it")
	return cmd
}
