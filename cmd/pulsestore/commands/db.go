package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulsestore/db"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the pulsestore database",
	Long: `db: Manage the pulsestore database

Examples:
  pulsestore db migrate   # Create or upgrade the schema
  pulsestore db status    # Show schema version, job and execution counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
	RunE:  runDbStatus,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatusCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	versions, err := db.AppliedVersions(s.handle.DB())
	if err != nil {
		return err
	}
	pterm.Success.Printf("Database %s is at schema version %s\n", s.cfg.GetDatabasePath(), versions[len(versions)-1])
	return nil
}

func runDbStatus(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.health.Probe(ctx); err != nil {
		return fmt.Errorf("database is not reachable: %w", err)
	}

	versions, err := db.AppliedVersions(s.handle.DB())
	if err != nil {
		return err
	}

	var jobs, paused, executions int
	conn := s.handle.DB()
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(*) - COUNT(next_run_time) FROM scheduled_jobs`).Scan(&jobs, &paused); err != nil {
		return fmt.Errorf("failed to count jobs: %w", err)
	}
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_executions`).Scan(&executions); err != nil {
		return fmt.Errorf("failed to count executions: %w", err)
	}

	data := pterm.TableData{
		{"Database", s.cfg.GetDatabasePath()},
		{"Schema version", versions[len(versions)-1]},
		{"Timezone mode", string(s.jobs.Normalizer().Mode())},
		{"Jobs", fmt.Sprintf("%d (%d paused)", jobs, paused)},
		{"Executions", fmt.Sprint(executions)},
	}
	return pterm.DefaultTable.WithData(data).Render()
}
