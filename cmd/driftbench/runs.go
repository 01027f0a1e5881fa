package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"driftbench/internal/config"
	"driftbench/internal/storage"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List indexed runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.NewRunStore(filepath.Join(basePath, "index.db"))
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tNAME\tCREATED\tSTATUS\tTRAJECTORIES\tINCOMPLETE\tREWRITES")
		for _, r := range runs {
			counts, err := store.CountTrajectories(r.RunID)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
				r.RunID, r.RunName, r.CreatedAt.Format(time.RFC3339),
				r.Status, counts.Total, counts.Incomplete, counts.Rewrites)
		}
		return w.Flush()
	},
}

var initConfigOut string

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default config YAML to get started",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(initConfigOut); err == nil {
			return fmt.Errorf("%s already exists", initConfigOut)
		}
		cfg := config.DefaultConfig()
		if err := cfg.Save(initConfigOut); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", initConfigOut)
		return nil
	},
}

func init() {
	initConfigCmd.Flags().StringVarP(&initConfigOut, "out", "o", "config.yaml", "Where to write the config")
}
