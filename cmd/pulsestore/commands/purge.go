package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulsestore/db"
)

// PurgeCmd deletes execution history older than a maximum age
var PurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old execution history",
	Long: `purge: Delete executions whose run time is older than --max-age.

Defaults to retention.max_age_seconds (one week).

Examples:
  pulsestore purge
  pulsestore purge --max-age 72h`,
	RunE: runPurge,
}

var purgeMaxAge time.Duration

func init() {
	PurgeCmd.Flags().DurationVar(&purgeMaxAge, "max-age", 0, "Delete executions older than this (default from config)")
}

func runPurge(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	maxAge := purgeMaxAge
	if maxAge == 0 {
		maxAge = s.cfg.JanitorConfig().MaxAge
	}

	var deleted int64
	err = db.WithFreshConnection(context.Background(), s.health, func(ctx context.Context) error {
		n, err := s.executions.PurgeOlderThan(ctx, maxAge)
		deleted = n
		return err
	})
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	pterm.Success.Printf("Deleted %d executions older than %s\n", deleted, maxAge)
	return nil
}
