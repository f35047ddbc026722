package commands

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulsestore/pulse/schedule"
)

// ExecutionsCmd represents the executions command
var ExecutionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect execution history",
}

var executionsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List executions, newest run first",
	RunE:  runExecutionsLs,
}

var (
	executionsJobID string
	executionsLimit int
)

func init() {
	executionsLsCmd.Flags().StringVarP(&executionsJobID, "job", "j", "", "Only executions of this job")
	executionsLsCmd.Flags().IntVar(&executionsLimit, "limit", 50, "Maximum rows (0 = all)")

	ExecutionsCmd.AddCommand(executionsLsCmd)
}

func runExecutionsLs(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	list, err := s.executions.ListExecutions(context.Background(), executionsJobID, executionsLimit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		pterm.Info.Println("No executions")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(executionsTable(list, s.cfg.TimeLayout())).Render()
}

func executionsTable(list []*schedule.Execution, layout string) pterm.TableData {
	data := pterm.TableData{{"ID", "Job", "Run time", "Status", "Duration", "Exception"}}
	for _, e := range list {
		duration := "N/A"
		if e.Duration != nil {
			duration = fmt.Sprintf("%.2fs", *e.Duration)
		}
		exception := ""
		if e.Exception != nil {
			exception = *e.Exception
		}
		data = append(data, []string{
			fmt.Sprint(e.ID), e.JobID, e.RunTime.Format(layout), statusText(e.Status), duration, exception,
		})
	}
	return data
}

func statusText(s schedule.Status) string {
	switch s {
	case schedule.StatusSuccess:
		return pterm.Green(string(s))
	case schedule.StatusSent:
		return pterm.Cyan(string(s))
	default:
		return pterm.Red(string(s))
	}
}
