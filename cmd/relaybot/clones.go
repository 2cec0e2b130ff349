package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/garudnet/relaybot/internal/config"
	"github.com/garudnet/relaybot/internal/dashboard"
	"github.com/garudnet/relaybot/internal/db"
)

func newClonesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clones",
		Short: "Clone-registration commands",
	}

	cmd.AddCommand(newClonesListCmd())
	return cmd
}

func newClonesListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered clone tokens (redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClonesList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaybot.yaml", "path to relaybot config file")
	return cmd
}

func runClonesList(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}

	rows, err := dashboard.CloneSummary(gormDB)
	if err != nil {
		return fmt.Errorf("list clones: %w", err)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No clone tokens registered.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OWNER\tNAME\tTOKEN\tREGISTERED")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s...\t%s\n",
			row.OwnerUserID, row.OwnerName, row.TokenPrefix,
			row.RegisteredAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
