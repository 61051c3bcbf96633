// Package smoke sends a few lightweight requests to a freshly started
// service. Results are advisory and never fail a run.
package smoke

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"modelprov/pkg/types"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultInterval = time.Second
	attemptTimeout  = 5 * time.Second
	maxBody         = 1 << 20
)

// Probe is one HTTP check. Check inspects a 2xx response and returns a short
// detail or an error. A failed Gate probe skips every probe after it.
type Probe struct {
	Name   string
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Gate   bool
	Check  func(body []byte) (string, error)
}

// Verifier runs probes sequentially after a bounded warm-up wait.
type Verifier struct {
	Client   *http.Client
	Warmup   time.Duration
	Timeout  time.Duration // per probe, across retries
	Interval time.Duration
	Log      zerolog.Logger
}

func New(warmup, timeout time.Duration, log zerolog.Logger) *Verifier {
	return &Verifier{
		Client:   &http.Client{Timeout: attemptTimeout},
		Warmup:   warmup,
		Timeout:  timeout,
		Interval: DefaultInterval,
		Log:      log,
	}
}

// Verify waits for the warm-up period, then runs each probe until it passes
// or its deadline expires.
func (v *Verifier) Verify(ctx context.Context, probes []Probe) []types.ProbeResult {
	out := make([]types.ProbeResult, 0, len(probes))
	if v.Warmup > 0 {
		v.Log.Info().Dur("wait", v.Warmup).Msg("waiting for service warm-up")
		select {
		case <-time.After(v.Warmup):
		case <-ctx.Done():
		}
	}
	var blockedBy string
	for _, p := range probes {
		if blockedBy != "" {
			out = append(out, types.ProbeResult{
				Name: p.Name, Target: p.URL, Skipped: true,
				Detail: "skipped: " + blockedBy + " failed",
			})
			continue
		}
		res := v.run(ctx, p)
		ev := v.Log.Info()
		if !res.OK {
			ev = v.Log.Warn()
			if p.Gate {
				blockedBy = p.Name
			}
		}
		ev.Str("probe", p.Name).Str("target", p.URL).Bool("ok", res.OK).Int("attempts", res.Attempts).Msg(res.Detail)
		out = append(out, res)
	}
	return out
}

func (v *Verifier) run(ctx context.Context, p Probe) types.ProbeResult {
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := v.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res := types.ProbeResult{Name: p.Name, Target: p.URL}
	for {
		res.Attempts++
		status, detail, err := v.attempt(ctx, p)
		res.Status = status
		if err == nil {
			res.OK = true
			res.Detail = detail
			res.Duration = time.Since(start)
			return res
		}
		res.Detail = err.Error()
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			res.Duration = time.Since(start)
			return res
		}
	}
}

func (v *Verifier) attempt(ctx context.Context, p Probe) (int, string, error) {
	method := p.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if p.Body != nil {
		body = bytes.NewReader(p.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
	if err != nil {
		return 0, "", err
	}
	for k, vs := range p.Header {
		for _, val := range vs {
			req.Header.Add(k, val)
		}
	}
	if p.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	client := v.Client
	if client == nil {
		client = &http.Client{Timeout: attemptTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if p.Check == nil {
		return resp.StatusCode, resp.Status, nil
	}
	detail, err := p.Check(data)
	return resp.StatusCode, detail, err
}
