package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <model.yaml> <data.csv> <engine.db>",
		Short: "Simulate data and priors around the last fit",
		Long: `Draw synthetic realizations of the data and priors around the variables
of the last fit in the engine file. With --sample, fit each realization and
collect the posterior samples.

Examples:
  cascade simulate model.yaml data.csv fit.db --count 20
  cascade simulate model.yaml data.csv fit.db --count 20 --sample --output samples.csv`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			count, _ := cmd.Flags().GetInt("count")
			sample, _ := cmd.Flags().GetBool("sample")
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
			s, err := env.openSession(ctx, mf, args[2], true)
			if err != nil {
				return err
			}
			defer s.Close()

			fit, err := s.Store().FitVar(ctx)
			if err != nil {
				return fmt.Errorf("reading the last fit: %w", err)
			}
			sim, err := s.Simulate(ctx, m, measurements, fit, count)
			if err != nil {
				return err
			}
			result := map[string]any{"simulations": sim.Count()}
			if sample {
				samples, err := s.Sample(ctx, sim)
				if err != nil {
					return err
				}
				result["samples"] = len(samples)
				if output != "" {
					if err := writeFrame(cmd, output, samplesFrame(samples)); err != nil {
						return fmt.Errorf("writing samples: %w", err)
					}
				}
			}

			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(result)
			} else if output != "-" {
				fmt.Fprintf(cmd.OutOrStdout(), "Simulated %d realizations\n", sim.Count())
				if n, ok := result["samples"]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "Drew %d posterior samples\n", n)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("count", 10, "Number of realizations")
	cmd.Flags().Bool("sample", false, "Fit each realization and collect posterior samples")
	cmd.Flags().String("output", "", "Write samples as CSV to this file (- for stdout)")
	cmd.Flags().Bool("backup", false, "Snapshot the engine file before changing it")
	return cmd
}

func newSampleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample <model.yaml> <engine.db>",
		Short: "Draw posterior samples from an earlier simulate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			output, _ := cmd.Flags().GetString("output")

			if err := snapshotBefore(cmd, args[1]); err != nil {
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
			s, err := env.openSession(ctx, mf, args[1], true)
			if err != nil {
				return err
			}
			defer s.Close()

			rec, err := loadRecordFor(args[1])
			if err != nil {
				return err
			}
			samples, err := s.SampleCount(ctx, rec.SimulateCount)
			if err != nil {
				return err
			}
			if output != "" {
				if err := writeFrame(cmd, output, samplesFrame(samples)); err != nil {
					return fmt.Errorf("writing samples: %w", err)
				}
			}
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"samples": len(samples)})
			} else if output != "-" {
				fmt.Fprintf(cmd.OutOrStdout(), "Drew %d posterior samples\n", len(samples))
			}
			return nil
		},
	}
	cmd.Flags().String("output", "", "Write samples as CSV to this file (- for stdout)")
	cmd.Flags().Bool("backup", false, "Snapshot the engine file before changing it")
	return cmd
}
