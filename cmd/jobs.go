package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/auth"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/job"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Generation job client commands",
}

// jobsPollCmd 轮询任务直到终态
var jobsPollCmd = &cobra.Command{
	Use:   "poll <job-id>",
	Short: "Poll a generation job until it reaches a terminal status",
	Long: `Poll a generation job with bounded exponential backoff.
Exits with an error when the job is still queued or processing once the
timeout elapses.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		server, _ := flags.GetString("server")
		user, _ := flags.GetString("user")
		token, _ := flags.GetString("token")
		poller := job.DefaultPoller()
		poller.Initial, _ = flags.GetDuration("initial")
		poller.Max, _ = flags.GetDuration("max")
		poller.Timeout, _ = flags.GetDuration("timeout")

		client := &JobClient{
			BaseURL: strings.TrimRight(server, "/"),
			UserID:  user,
			Token:   token,
			HTTP:    &http.Client{Timeout: 10 * time.Second},
		}

		j, err := poller.Wait(cmd.Context(), client.Status, args[0])
		if err != nil && !errors.Is(err, job.ErrStillProcessing) {
			return err
		}
		out := json.NewEncoder(cmd.OutOrStdout())
		out.SetIndent("", "  ")
		if encErr := out.Encode(j); encErr != nil {
			return encErr
		}
		return err
	},
}

// JobClient 通过 HTTP 读取任务状态
type JobClient struct {
	BaseURL string
	UserID  string // header 认证模式
	Token   string // keycloak 认证模式
	HTTP    *http.Client
}

type jobEnvelope struct {
	Code    int                  `json:"code"`
	Reason  string               `json:"reason"`
	Message string               `json:"message"`
	Data    domain.GenerationJob `json:"data"`
}

// Status 实现 job.StatusFunc
func (c *JobClient) Status(ctx context.Context, jobID string) (domain.GenerationJob, error) {
	endpoint := c.BaseURL + "/api/v1/jobs/" + url.PathEscape(jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.GenerationJob{}, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.UserID != "" {
		req.Header.Set(auth.HeaderUserID, c.UserID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return domain.GenerationJob{}, fmt.Errorf("failed to query job: %w", err)
	}
	defer resp.Body.Close()

	var body jobEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.GenerationJob{}, fmt.Errorf("failed to decode job response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.GenerationJob{}, domain.NewError(domain.CodeNotFound, body.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.GenerationJob{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body.Message)
	}
	return body.Data, nil
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsPollCmd)

	defaults := job.DefaultPoller()
	jobsPollCmd.Flags().String("server", "http://localhost:8080", "Signflow server base URL")
	jobsPollCmd.Flags().String("user", "", "Identity sent in the "+auth.HeaderUserID+" header")
	jobsPollCmd.Flags().String("token", "", "Bearer token")
	jobsPollCmd.Flags().Duration("initial", defaults.Initial, "Initial poll interval")
	jobsPollCmd.Flags().Duration("max", defaults.Max, "Maximum poll interval")
	jobsPollCmd.Flags().Duration("timeout", defaults.Timeout, "Give up after this long")
}
