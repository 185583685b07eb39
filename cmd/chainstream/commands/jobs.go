package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/chainstream/internal/bytesize"
	"github.com/marmos91/chainstream/internal/cli/output"
	"github.com/marmos91/chainstream/internal/cli/prompt"
	"github.com/marmos91/chainstream/pkg/jobs"
)

var (
	jobsServer string
	jobsOutput string
	jobsForce  bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control streaming jobs",
	Long: `Inspect and control the streaming jobs of a running chainstream
process through its management API.

Examples:
  # List jobs
  chainstream jobs list

  # Show one job as JSON
  chainstream jobs show stream-1 -o json

  # Cancel a job (prompts for confirmation)
  chainstream jobs cancel stream-1

  # Resume a job paused by an I/O error
  chainstream jobs resume stream-1`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Request cooperative cancellation of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a job paused by an I/O error",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsResume,
}

func init() {
	jobsCmd.PersistentFlags().StringVar(&jobsServer, "server", "http://localhost:8080",
		"Management API base URL")
	jobsCmd.PersistentFlags().StringVarP(&jobsOutput, "output", "o", "table",
		"Output format: table, json or yaml")
	jobsCancelCmd.Flags().BoolVar(&jobsForce, "force", false, "Skip the confirmation prompt")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsCancelCmd, jobsResumeCmd)
	rootCmd.AddCommand(jobsCmd)
}

// apiEnvelope is the management API's response wrapper.
type apiEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func apiCall(method, path string, out interface{}) error {
	client := &http.Client{Timeout: 10 * time.Second}

	req, err := http.NewRequest(method, jobsServer+path, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach %s: %w", jobsServer, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("unexpected API response (%d): %s", resp.StatusCode, body)
	}
	if env.Error != "" {
		return errors.New(env.Error)
	}
	if out != nil && env.Data != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// jobList renders job records as a table.
type jobList []*jobs.Record

func (l jobList) Headers() []string {
	return []string{"ID", "STATE", "TARGET", "PROGRESS", "COPIED", "UPDATED"}
}

func (l jobList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		rows = append(rows, []string{
			r.ID,
			string(r.State),
			r.Target,
			formatProgress(r.Offset, r.Length),
			bytesize.ByteSize(r.BytesCopied).String(),
			r.UpdatedAt.Local().Format(time.RFC3339),
		})
	}
	return rows
}

func formatProgress(offset, length int64) string {
	if length <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", float64(offset)/float64(length)*100)
}

func newPrinter() (*output.Printer, error) {
	format, err := output.ParseFormat(jobsOutput)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(os.Stdout, format), nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	p, err := newPrinter()
	if err != nil {
		return err
	}

	var recs jobList
	if err := apiCall(http.MethodGet, "/api/v1/jobs", &recs); err != nil {
		return err
	}
	if len(recs) == 0 && p.Format() == output.FormatTable {
		p.Println("No jobs found")
		return nil
	}
	return p.Print(recs)
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	p, err := newPrinter()
	if err != nil {
		return err
	}

	var rec jobs.Record
	if err := apiCall(http.MethodGet, "/api/v1/jobs/"+args[0], &rec); err != nil {
		return err
	}

	if p.Format() != output.FormatTable {
		return p.Print(rec)
	}

	pairs := [][2]string{
		{"ID", rec.ID},
		{"Kind", rec.Kind},
		{"State", string(rec.State)},
		{"Target", rec.Target},
		{"Progress", formatProgress(rec.Offset, rec.Length)},
		{"Copied", bytesize.ByteSize(rec.BytesCopied).String()},
		{"Created", rec.CreatedAt.Local().Format(time.RFC3339)},
		{"Updated", rec.UpdatedAt.Local().Format(time.RFC3339)},
	}
	if rec.Error != "" {
		pairs = append(pairs, [2]string{"Error", rec.Error})
	}
	return output.SimpleTable(p.Writer(), pairs)
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	id := args[0]

	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Cancel job %s?", id), jobsForce)
	if err != nil {
		if errors.Is(err, prompt.ErrAborted) {
			return nil
		}
		return err
	}
	if !ok {
		return nil
	}

	if err := apiCall(http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for job %s\n", id)
	return nil
}

func runJobsResume(cmd *cobra.Command, args []string) error {
	id := args[0]

	if err := apiCall(http.MethodPost, "/api/v1/jobs/"+id+"/resume", nil); err != nil {
		return err
	}
	fmt.Printf("Job %s resumed\n", id)
	return nil
}
