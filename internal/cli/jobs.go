package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/intake-go/internal/client"
	"github.com/spf13/cobra"
)

var (
	jobsJobID  string
	jobsFollow bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [session-id]",
	Short: "List or inspect analysis jobs",
	Long: `List background analysis jobs or inspect a specific job.

Examples:
  intake jobs                  # List all jobs
  intake jobs abc123           # List one session's jobs
  intake jobs --job f3a1b2c4   # Show details for one job
  intake jobs --job f3a1b2c4 -f  # Follow the job until it finishes`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVar(&jobsJobID, "job", "", "job ID to inspect")
	jobsCmd.Flags().BoolVarP(&jobsFollow, "follow", "f", false, "stream status updates until the job finishes")
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if jobsJobID != "" {
		if jobsFollow {
			return followJob(ctx, jobsJobID)
		}
		return showJob(ctx, jobsJobID)
	}

	sessionID := ""
	if len(args) == 1 {
		sessionID = args[0]
	}
	return listJobs(ctx, sessionID)
}

func listJobs(ctx context.Context, sessionID string) error {
	var jobs []client.Job
	var err error
	if sessionID == "" {
		jobs, err = api.ListAllJobs(ctx)
	} else {
		jobs, err = api.ListJobs(ctx, sessionID)
	}
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-10s %-10s %-10s %-12s %-10s %s\n", "ID", "ANALYZER", "TOPIC", "STATUS", "FIELDS", "STARTED")
	fmt.Println("------------------------------------------------------------------------")

	for _, job := range jobs {
		fields := ""
		if job.Result != nil {
			fields = fmt.Sprintf("%d/%d", job.Result.FieldsWritten, job.Result.FieldsWritten+job.Result.FieldsSkipped)
		}
		started := job.StartedAt.Format("15:04:05")
		fmt.Printf("%-10s %-10s %-10s %-12s %-10s %s\n", job.ID, job.AnalyzerKey, job.Bucket, job.Status, fields, started)
	}

	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := api.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Session: %s\n", job.SessionID)
	fmt.Printf("  Analyzer: %s\n", job.AnalyzerKey)
	fmt.Printf("  Topic: %s\n", job.Bucket)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		duration := job.CompletedAt.Sub(job.StartedAt)
		fmt.Printf("  Duration: %s\n", duration.Round(time.Millisecond))
	}

	if job.Error != "" {
		fmt.Printf("  Error: %s\n", job.Error)
	}

	if job.Result != nil {
		fmt.Println("\nResult:")
		if job.Result.Analyzer != "" {
			fmt.Printf("  Analyzer: %s\n", job.Result.Analyzer)
		}
		fmt.Printf("  Parser: %s\n", job.Result.Parser)
		fmt.Printf("  Fields written: %d\n", job.Result.FieldsWritten)
		fmt.Printf("  Fields skipped: %d\n", job.Result.FieldsSkipped)
		if len(job.Result.SkippedFields) > 0 {
			fmt.Println("\n  Skipped:")
			for _, f := range job.Result.SkippedFields {
				fmt.Printf("    - %s\n", f)
			}
		}
	}

	return nil
}

// followJob streams status changes over the watch socket and prints one line
// per transition, then the final job detail.
func followJob(ctx context.Context, id string) error {
	final, err := api.WatchJob(ctx, id, func(job client.Job) {
		fmt.Printf("[%s] job %s: %s\n", time.Now().Format("15:04:05"), job.ID, job.Status)
	})
	if err != nil {
		return fmt.Errorf("watch job: %w", err)
	}
	if final == nil {
		return fmt.Errorf("watch job: no updates received")
	}

	fmt.Println()
	return showJob(ctx, final.ID)
}
