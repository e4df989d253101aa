package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alec-deason/cascade/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage cascade configuration",
		Long: `View and modify cascade configuration settings.

Configuration is stored in ~/.cascade/config.yaml.

Examples:
  cascade config list                               # Show all settings
  cascade config get engine.executable              # Get a specific setting
  cascade config set engine.executable /opt/bin/dmdismod
  cascade config set solver.random_seed 1234        # Engine option for every model`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(cfg)
			}
			fmt.Fprintln(out, "Configuration (~/.cascade/config.yaml):")
			fmt.Fprintln(out)
			for _, key := range config.Keys() {
				value, _ := cfg.Get(key)
				fmt.Fprintf(out, "  %-42s %s\n", key+":", valueOrDefault(value, "(default)"))
			}
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key := args[0]

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			out := cmd.OutOrStdout()
			value, found := cfg.Get(key)
			if !found {
				if jsonOut {
					json.NewEncoder(out).Encode(map[string]any{
						"error": "key not found",
						"key":   key,
					})
				} else {
					fmt.Fprintf(out, "Unknown configuration key: %s\n", key)
				}
				return nil
			}

			if jsonOut {
				json.NewEncoder(out).Encode(map[string]any{
					"key":   key,
					"value": value,
				})
			} else {
				fmt.Fprintf(out, "%s = %s\n", key, value)
			}
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key := args[0]
			value := args[1]

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			out := cmd.OutOrStdout()
			if err := cfg.Set(key, value); err != nil {
				if jsonOut {
					json.NewEncoder(out).Encode(map[string]any{
						"error": err.Error(),
						"key":   key,
					})
				} else {
					fmt.Fprintf(out, "Error: %v\n", err)
				}
				return nil
			}

			path, err := config.DefaultPath()
			if err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if jsonOut {
				json.NewEncoder(out).Encode(map[string]any{
					"status": "updated",
					"key":    key,
					"value":  value,
				})
			} else {
				fmt.Fprintf(out, "Set %s = %s\n", key, value)
			}
			return nil
		},
	}
}
