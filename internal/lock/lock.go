// Package lock serializes runs for the same service on one host.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// DefaultDir holds lock files when no directory is configured.
const DefaultDir = "/run/lock"

const retryDelay = 100 * time.Millisecond

// ErrBusy means another run holds the lock for the service.
var ErrBusy = errors.New("another run is in progress")

// Lock is an acquired advisory lock.
type Lock struct {
	Path string
	f    *flock.Flock
}

// PathFor returns the lock file used for service.
func PathFor(dir, service string) string {
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, "modelprov-"+service+".lock")
}

// Acquire takes the lock for service, retrying for up to wait. A zero wait
// tries exactly once.
func Acquire(ctx context.Context, dir, service string, wait time.Duration) (*Lock, error) {
	path := PathFor(dir, service)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(path)

	var (
		ok  bool
		err error
	)
	if wait <= 0 {
		ok, err = fl.TryLock()
	} else {
		wctx, cancel := context.WithTimeout(ctx, wait)
		ok, err = fl.TryLockContext(wctx, retryDelay)
		cancel()
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", path, ErrBusy)
	}
	return &Lock{Path: path, f: fl}, nil
}

// Release drops the lock. The file is left in place for the next run.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Unlock()
}
