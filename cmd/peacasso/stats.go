package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"peacasso-client/internal/config"
	"peacasso-client/internal/database"
)

func StatsCmd() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show result ledger statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath, _ = cmd.Flags().GetString("db")
			}
			if cfg.DBPath == "" {
				return errors.New("no ledger configured: pass --db or set $" + config.EnvDBPath)
			}

			db, err := database.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.InitSchema(); err != nil {
				return err
			}

			out := map[string]any{}
			stats, err := db.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			out["stats"] = stats

			if recent, _ := cmd.Flags().GetInt("recent"); recent > 0 {
				records, err := db.ListResults(cmd.Context(), recent)
				if err != nil {
					return err
				}
				out["recent"] = records
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	statsCmd.Flags().String("db", "", "Result ledger SQLite path")
	statsCmd.Flags().Int("recent", 0, "Also list this many recent results")
	return statsCmd
}
