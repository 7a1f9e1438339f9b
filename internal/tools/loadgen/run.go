package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Username    string
	Password    string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
	Client      *http.Client
}

type Result struct {
	TotalRequests   int            `json:"totalRequests"`
	Failures        int            `json:"failures"`
	Logins          int            `json:"logins"`
	Reissues        int            `json:"reissues"`
	ReplayProbes    int            `json:"replayProbes"`
	ReplaysRejected int            `json:"replaysRejected"`
	ReplaysAccepted int            `json:"replaysAccepted"`
	ByStatusClass   map[string]int `json:"byStatusClass"`
}

type pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type outcome struct {
	kind   string
	status int
	err    error
}

// Run drives login and reissue traffic against baseURL until Duration elapses.
// Profiles: "login" repeats logins, "rotate" keeps one lineage per worker and
// reissues, "mixed" rotates and occasionally replays a spent refresh token,
// which the server must reject.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg = withDefaults(cfg)
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	ticks := make(chan struct{})
	go func() {
		defer close(ticks)
		t := time.NewTicker(time.Second / time.Duration(cfg.RPS))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case ticks <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	res := Result{ByStatusClass: map[string]int{}}
	var mu sync.Mutex
	transportErrors := 0

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		w := &worker{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed + int64(i)))}
		g.Go(func() error {
			for range ticks {
				o := w.step(gctx)
				if o.kind == "" || (o.err != nil && gctx.Err() != nil) {
					continue
				}
				mu.Lock()
				res.record(o)
				if o.err != nil {
					transportErrors++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if res.TotalRequests > 0 && transportErrors == res.TotalRequests {
		return res, fmt.Errorf("all %d requests failed to reach %s", res.TotalRequests, cfg.BaseURL)
	}
	return res, nil
}

func withDefaults(cfg Config) Config {
	cfg.Profile = normalizeProfile(cfg.Profile)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Duration <= 0 {
		cfg.Duration = 5 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Second}
	}
	return cfg
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	switch p {
	case "login", "auth", "rotate":
		return p
	default:
		return "mixed"
	}
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func (r *Result) record(o outcome) {
	r.TotalRequests++
	switch o.kind {
	case "login":
		r.Logins++
	case "reissue":
		r.Reissues++
	case "replay":
		r.ReplayProbes++
		switch o.status {
		case http.StatusUnauthorized:
			r.ReplaysRejected++
		case http.StatusOK:
			r.ReplaysAccepted++
		}
	}
	if o.err != nil {
		r.Failures++
		r.ByStatusClass["transport"]++
		return
	}
	if o.status >= 400 && !(o.kind == "replay" && o.status == http.StatusUnauthorized) {
		r.Failures++
	}
	r.ByStatusClass[classifyStatusClass(o.status)]++
}

type worker struct {
	cfg     Config
	rng     *rand.Rand
	refresh string
	spent   string
}

func (w *worker) step(ctx context.Context) outcome {
	if ctx.Err() != nil {
		return outcome{}
	}
	if w.cfg.Profile == "login" || w.cfg.Profile == "auth" || w.refresh == "" {
		return w.login(ctx)
	}
	if w.cfg.Profile == "mixed" && w.spent != "" && w.rng.Intn(10) == 0 {
		status, _, err := w.post(ctx, "/api/v1/auth/reissue", map[string]string{"refreshToken": w.spent})
		// a rejected replay revokes the lineage, so start over
		w.refresh, w.spent = "", ""
		return outcome{kind: "replay", status: status, err: err}
	}
	status, body, err := w.post(ctx, "/api/v1/auth/reissue", map[string]string{"refreshToken": w.refresh})
	if err == nil && status == http.StatusOK {
		if p, ok := decodePair(body); ok {
			w.spent, w.refresh = w.refresh, p.RefreshToken
		}
	} else {
		w.refresh, w.spent = "", ""
	}
	return outcome{kind: "reissue", status: status, err: err}
}

func (w *worker) login(ctx context.Context) outcome {
	status, body, err := w.post(ctx, "/api/v1/auth/login", map[string]string{
		"username": w.cfg.Username,
		"password": w.cfg.Password,
		"deviceId": "loadgen",
	})
	if err == nil && status == http.StatusOK {
		if p, ok := decodePair(body); ok {
			w.refresh, w.spent = p.RefreshToken, ""
		}
	}
	return outcome{kind: "login", status: status, err: err}
}

func (w *worker) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.cfg.Client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
			return 0, nil, ctx.Err()
		}
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, body, err
}

func decodePair(body []byte) (pair, bool) {
	var env struct {
		Data pair `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Data.RefreshToken == "" {
		return pair{}, false
	}
	return env.Data, true
}
