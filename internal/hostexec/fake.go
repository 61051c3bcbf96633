package hostexec

import (
	"context"
	"strings"
	"sync"
)

// Fake is an in-memory Runner for tests. Handle decides the outcome of each
// command; when nil every command succeeds with empty output.
type Fake struct {
	Handle func(c Cmd) (Result, error)

	mu    sync.Mutex
	calls []Cmd
}

func (f *Fake) Run(ctx context.Context, c Cmd) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: 1}, &CommandError{Cmd: c, Result: Result{ExitCode: 1}, Err: err}
	}
	if f.Handle == nil {
		return Result{}, nil
	}
	res, err := f.Handle(c)
	if err != nil {
		if _, ok := err.(*CommandError); !ok {
			if res.ExitCode == 0 {
				res.ExitCode = 1
			}
			err = &CommandError{Cmd: c, Result: res, Err: err}
		}
	}
	return res, err
}

// Calls returns every command line seen so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.String())
	}
	return out
}

// Count returns how many recorded command lines start with prefix.
func (f *Fake) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// Commands returns copies of every recorded command, env included.
func (f *Fake) Commands() []Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Cmd(nil), f.calls...)
}
