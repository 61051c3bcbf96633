// Package runtime manages derived model profiles through the local runtime CLI.
package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"modelprov/internal/hostexec"
)

const defaultTag = "latest"

// Store lists, pulls and creates models in the runtime's backing store.
// Every command talks to the server at Host via OLLAMA_HOST.
type Store struct {
	Runner hostexec.Runner
	Binary string
	Host   string // host:port
	Log    zerolog.Logger
}

func New(r hostexec.Runner, binary, host string, log zerolog.Logger) *Store {
	return &Store{Runner: r, Binary: binary, Host: host, Log: log}
}

func (s *Store) bin() string {
	if s.Binary == "" {
		return "ollama"
	}
	return s.Binary
}

func (s *Store) run(ctx context.Context, args ...string) (hostexec.Result, error) {
	env := map[string]string{}
	if s.Host != "" {
		env["OLLAMA_HOST"] = s.Host
	}
	return hostexec.RunEnv(ctx, s.Runner, env, s.bin(), args...)
}

// List returns the normalized names of every model in the store.
func (s *Store) List(ctx context.Context) ([]string, error) {
	res, err := s.run(ctx, "list")
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return parseList(res.Stdout), nil
}

// Has reports whether name (tag optional) is present.
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	names, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	want := Normalize(name)
	for _, n := range names {
		if n == want {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Pull(ctx context.Context, model string) error {
	s.Log.Info().Str("model", model).Msg("pulling base model")
	if _, err := s.run(ctx, "pull", model); err != nil {
		return fmt.Errorf("pull %s: %w", model, err)
	}
	return nil
}

// Create builds (or rebuilds) profile name from the descriptor at path.
func (s *Store) Create(ctx context.Context, name, path string) error {
	s.Log.Info().Str("profile", name).Str("path", path).Msg("creating derived profile")
	if _, err := s.run(ctx, "create", name, "-f", path); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	return nil
}

// WaitReady polls List until the server answers or ctx ends.
func (s *Store) WaitReady(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		_, err := s.List(ctx)
		if err == nil {
			return nil
		}
		s.Log.Debug().Err(err).Msg("runtime not ready")
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return fmt.Errorf("runtime at %s not ready: %w", s.Host, err)
		}
	}
}

// Normalize appends the default tag to untagged names.
func Normalize(name string) string {
	last := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		last = name[i+1:]
	}
	if strings.Contains(last, ":") {
		return name
	}
	return name + ":" + defaultTag
}

func parseList(out []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] == "NAME" {
			continue
		}
		names = append(names, Normalize(fields[0]))
	}
	return names
}
