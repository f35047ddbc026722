package commands

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulsestore/am"
	"github.com/teranos/pulsestore/logger"
	"github.com/teranos/pulsestore/pulse/schedule"
)

// JanitorCmd runs the retention janitor in the foreground
var JanitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Purge execution history periodically until interrupted",
	Long: `janitor: Run the retention janitor in the foreground.

Purges executions older than retention.max_age_seconds every
retention.interval_seconds (or --interval). When the user config file
exists it is watched, and a changed max age applies from the next run.`,
	RunE: runJanitor,
}

var janitorInterval time.Duration

func init() {
	JanitorCmd.Flags().DurationVar(&janitorInterval, "interval", 0, "Purge period (default from config, else 24h)")
}

func runJanitor(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := s.cfg.JanitorConfig()
	if janitorInterval > 0 {
		cfg.Interval = janitorInterval
	}
	if cfg.Interval <= 0 {
		cfg.Interval = schedule.DefaultJanitorConfig().Interval
	}

	janitor := schedule.NewJanitorWithContext(cmd.Context(), s.executions, s.health, cfg, logger.ComponentLogger("janitor"))

	if path := am.UserConfigPath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			watcher, err := am.NewConfigWatcher(path, logger.ComponentLogger("am"))
			if err != nil {
				return err
			}
			watcher.OnReload(func(c *am.Config) error {
				janitor.SetMaxAge(c.JanitorConfig().MaxAge)
				return nil
			})
			am.SetGlobalWatcher(watcher)
			watcher.Start()
			defer watcher.Stop()
		}
	}

	if _, err := janitor.RunOnce(cmd.Context()); err != nil {
		pterm.Warning.Printf("Initial purge failed: %v\n", err)
	}
	janitor.Start()
	pterm.Info.Printf("Janitor running every %s, keeping %s of history (Ctrl-C to stop)\n", cfg.Interval, cfg.MaxAge)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-cmd.Context().Done():
	}

	janitor.Stop()
	stats := janitor.GetStats()
	pterm.Success.Printf("Janitor stopped after %d runs, %d executions purged\n", stats["runs"], stats["total_purged"])
	return nil
}
