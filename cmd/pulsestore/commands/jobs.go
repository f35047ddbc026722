package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/pulsestore/errors"
	"github.com/teranos/pulsestore/pulse/schedule"
)

// JobsCmd represents the jobs command
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect stored jobs",
	Long: `jobs: Inspect and remove stored jobs

Jobs are written by the scheduling engine; these commands read the same
database. Jobs whose state cannot be restored are removed when listed.

Examples:
  pulsestore jobs ls
  pulsestore jobs show nightly-report
  pulsestore jobs rm nightly-report`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs, earliest next run first",
	RunE:  runJobsLs,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job definition and its recent executions",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsRmCmd = &cobra.Command{
	Use:   "rm [job-id]",
	Short: "Remove a job and its execution history",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobsRm,
}

var (
	jobsDueOnly   bool
	jobsShowLimit int
	jobsRmAll     bool
)

func init() {
	jobsLsCmd.Flags().BoolVar(&jobsDueOnly, "due", false, "Only jobs due now")
	jobsShowCmd.Flags().IntVar(&jobsShowLimit, "limit", 10, "Number of recent executions to include")
	jobsRmCmd.Flags().BoolVar(&jobsRmAll, "all", false, "Remove every job")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsRmCmd)
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	var jobs []*schedule.Job
	if jobsDueOnly {
		jobs, err = s.jobs.GetDueJobs(ctx, time.Now())
	} else {
		jobs, err = s.jobs.GetAllJobs(ctx)
	}
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		pterm.Info.Println("No jobs")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(jobsTable(jobs, s.cfg.TimeLayout())).Render()
}

func jobsTable(jobs []*schedule.Job, layout string) pterm.TableData {
	data := pterm.TableData{{"ID", "Name", "Func", "Next run"}}
	for _, j := range jobs {
		next := "paused"
		if j.NextRunTime != nil {
			next = j.NextRunTime.Format(layout)
		}
		data = append(data, []string{j.ID, j.Definition.Name, j.Definition.Func, next})
	}
	return data
}

// jobView is the YAML shape of `jobs show`.
type jobView struct {
	ID               string          `yaml:"id"`
	Name             string          `yaml:"name,omitempty"`
	Func             string          `yaml:"func"`
	Version          string          `yaml:"version"`
	NextRunTime      *time.Time      `yaml:"next_run_time"`
	Trigger          interface{}     `yaml:"trigger,omitempty"`
	Args             interface{}     `yaml:"args,omitempty"`
	Kwargs           interface{}     `yaml:"kwargs,omitempty"`
	Executor         string          `yaml:"executor,omitempty"`
	MisfireGraceTime *int64          `yaml:"misfire_grace_time,omitempty"`
	Coalesce         bool            `yaml:"coalesce"`
	MaxInstances     int             `yaml:"max_instances"`
	Executions       []executionView `yaml:"executions,omitempty"`
}

type executionView struct {
	RunTime   time.Time `yaml:"run_time"`
	Status    string    `yaml:"status"`
	Duration  *float64  `yaml:"duration,omitempty"`
	Exception *string   `yaml:"exception,omitempty"`
}

func rawToValue(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func newJobView(job *schedule.Job, executions []*schedule.Execution) jobView {
	d := job.Definition
	view := jobView{
		ID:               job.ID,
		Name:             d.Name,
		Func:             d.Func,
		Version:          d.Version,
		NextRunTime:      job.NextRunTime,
		Trigger:          rawToValue(d.Trigger),
		Args:             rawToValue(d.Args),
		Kwargs:           rawToValue(d.Kwargs),
		Executor:         d.Executor,
		MisfireGraceTime: d.MisfireGraceTime,
		Coalesce:         d.Coalesce,
		MaxInstances:     d.MaxInstances,
	}
	for _, e := range executions {
		view.Executions = append(view.Executions, executionView{
			RunTime:   e.RunTime,
			Status:    string(e.Status),
			Duration:  e.Duration,
			Exception: e.Exception,
		})
	}
	return view
}

func writeJobYAML(w io.Writer, view jobView) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return err
	}
	return enc.Close()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	job, err := s.jobs.LookupJob(ctx, args[0])
	if err != nil {
		return err
	}
	if job == nil {
		return errors.NewNotFoundError("job %q not found or could not be restored", args[0])
	}

	executions, err := s.executions.ListExecutions(ctx, job.ID, jobsShowLimit)
	if err != nil {
		return err
	}
	return writeJobYAML(cmd.OutOrStdout(), newJobView(job, executions))
}

func runJobsRm(cmd *cobra.Command, args []string) error {
	if jobsRmAll == (len(args) == 1) {
		return fmt.Errorf("give a job id or --all")
	}

	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	if jobsRmAll {
		if err := s.jobs.RemoveAllJobs(ctx); err != nil {
			return err
		}
		pterm.Success.Println("Removed all jobs")
		return nil
	}

	if err := s.jobs.RemoveJob(ctx, args[0]); err != nil {
		return err
	}
	pterm.Success.Printf("Removed job %s\n", args[0])
	return nil
}
