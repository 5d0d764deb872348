// Command quicklook is the operator CLI: a thin HTTP client against a
// running coordinator's own API, for submitting jobs, listing and
// inspecting their progress, and triggering an out-of-band housekeeping
// pass.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

const requestTimeout = 10 * time.Second

var coordinatorURL string

func main() {
	rootCmd := &cobra.Command{
		Use:           "quicklook",
		Short:         "Operator CLI for the quicklook coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&coordinatorURL, "coordinator", "http://localhost:9500", "coordinator base URL")

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and submit quicklook jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand())
	jobsCmd.AddCommand(newJobsStatusCommand())
	jobsCmd.AddCommand(newJobsSubmitCommand())

	housekeepCmd := &cobra.Command{
		Use:   "housekeep",
		Short: "Trigger coordinator housekeeping",
	}
	housekeepCmd.AddCommand(newHousekeepRunCommand())

	rootCmd.AddCommand(jobsCmd, housekeepCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", color.RedString(err.Error()))
		os.Exit(1)
	}
}

// jobReport mirrors quicklook.JobReport's JSON shape; the CLI is a pure
// client and never imports the coordinator's internal packages.
type jobReport struct {
	Visit         string    `json:"visit"`
	Phase         string    `json:"phase"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	FailureReason string    `json:"failureReason,omitempty"`
}

func newJobsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every tracked job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var reports []jobReport

			if err := doJSON(cmd.Context(), http.MethodGet, "/quicklook-jobs", nil, &reports); err != nil {
				return err
			}

			printJobTable(reports)

			return nil
		},
	}
}

func newJobsStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <visit>",
		Short: "Show one job's current phase and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var report jobReport

			path := fmt.Sprintf("/quicklooks/%s/status", args[0])
			if err := doJSON(cmd.Context(), http.MethodGet, path, nil, &report); err != nil {
				return err
			}

			printJobTable([]jobReport{report})

			return nil
		},
	}
}

func newJobsSubmitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <visit>",
		Short: "Submit a visit for quicklook generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{"visit": args[0]})
			if err != nil {
				return fmt.Errorf("encode request: %w", err)
			}

			if err := doJSON(cmd.Context(), http.MethodPost, "/quicklooks", body, nil); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("submitted %s", args[0]))

			return nil
		},
	}
}

func newHousekeepRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one housekeeping pass now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := doJSON(cmd.Context(), http.MethodPost, "/housekeeping/run", nil, nil); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("housekeeping pass complete"))

			return nil
		},
	}
}

// doJSON issues an HTTP request against the coordinator and, if out is
// non-nil, decodes the JSON response body into it.
func doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, coordinatorURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("coordinator returned status %d for %s", resp.StatusCode, path)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func printJobTable(reports []jobReport) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Visit", "Phase", "Created", "Updated", "Failure"})

	for _, r := range reports {
		phase := r.Phase
		if r.Phase == "FAILED" {
			phase = color.RedString(phase)
		}

		tbl.AppendRow(table.Row{
			r.Visit, phase,
			humanize.Time(r.CreatedAt),
			humanize.Time(r.UpdatedAt),
			r.FailureReason,
		})
	}

	tbl.Render()
}
