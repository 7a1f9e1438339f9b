package flowcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/secure-session-core/internal/tools/common"
	"github.com/sandeepkv93/secure-session-core/internal/tools/loadgen"
	"github.com/sandeepkv93/secure-session-core/internal/tools/ui"
)

type options struct {
	baseURL  string
	username string
	password string
	duration time.Duration
	rps      int
	ci       bool
	client   *http.Client
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "flowcheck",
		Short:         "Verify rotation and replay handling of a running API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().StringVar(&opts.username, "username", "", "account used for the check")
	cmd.PersistentFlags().StringVar(&opts.password, "password", "", "password of the account")
	cmd.PersistentFlags().DurationVar(&opts.duration, "duration", 5*time.Second, "traffic duration")
	cmd.PersistentFlags().IntVar(&opts.rps, "rps", 10, "requests per second during traffic")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Check readiness, replay detection and generate rotating traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "flowcheck run", func(ctx context.Context) ([]string, error) {
				return check(ctx, opts)
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "flowcheck run", details, err)
			}
			return err
		},
	}
}

func check(ctx context.Context, opts *options) ([]string, error) {
	c := newClient(opts)
	var details []string

	if err := c.ready(ctx); err != nil {
		return details, err
	}
	details = append(details, "readiness: ok")

	if err := c.replayRevokesFamily(ctx); err != nil {
		return details, err
	}
	details = append(details, "replay of a rotated token revokes its family: ok")

	res, err := loadgen.Run(ctx, loadgen.Config{
		BaseURL:     opts.baseURL,
		Username:    opts.username,
		Password:    opts.password,
		Profile:     "mixed",
		Duration:    opts.duration,
		RPS:         opts.rps,
		Concurrency: 2,
		Seed:        42,
		Client:      c.http,
	})
	if err != nil {
		return details, err
	}
	details = append(details, fmt.Sprintf("traffic total=%d failures=%d logins=%d reissues=%d replays=%d/%d rejected",
		res.TotalRequests, res.Failures, res.Logins, res.Reissues, res.ReplaysRejected, res.ReplayProbes))
	if res.ReplaysAccepted > 0 {
		return details, fmt.Errorf("%d replayed refresh tokens were accepted", res.ReplaysAccepted)
	}
	return details, nil
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

type client struct {
	base     string
	username string
	password string
	http     *http.Client
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func newClient(opts *options) *client {
	hc := opts.client
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &client{base: strings.TrimRight(opts.baseURL, "/"), username: opts.username, password: opts.password, http: hc}
}

func (c *client) ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health/ready", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("readiness failed: %s", resp.Status)
	}
	return nil
}

// replayRevokesFamily logs in, rotates once, replays the spent token and
// expects both the replay and the newest token of the lineage to be refused.
func (c *client) replayRevokesFamily(ctx context.Context) error {
	first, status, err := c.pair(ctx, "/api/v1/auth/login", map[string]string{"username": c.username, "password": c.password, "deviceId": "flowcheck"})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("login failed: status %d", status)
	}
	second, status, err := c.pair(ctx, "/api/v1/auth/reissue", map[string]string{"refreshToken": first.RefreshToken})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("reissue failed: status %d", status)
	}
	if _, status, err = c.pair(ctx, "/api/v1/auth/reissue", map[string]string{"refreshToken": first.RefreshToken}); err != nil {
		return err
	}
	if status != http.StatusUnauthorized {
		return fmt.Errorf("replayed token answered %d, want 401", status)
	}
	if _, status, err = c.pair(ctx, "/api/v1/auth/reissue", map[string]string{"refreshToken": second.RefreshToken}); err != nil {
		return err
	}
	if status != http.StatusUnauthorized {
		return fmt.Errorf("token of a revoked family answered %d, want 401", status)
	}
	return nil
}

func (c *client) pair(ctx context.Context, path string, payload any) (tokenPair, int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return tokenPair{}, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return tokenPair{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return tokenPair{}, 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tokenPair{}, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return tokenPair{}, resp.StatusCode, nil
	}
	var env struct {
		Data tokenPair `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return tokenPair{}, resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
	}
	return env.Data, resp.StatusCode, nil
}
