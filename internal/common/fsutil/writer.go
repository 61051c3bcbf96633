package fsutil

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
)

// Owner resolves user/group names to numeric ids.
type Owner func(owner, group string) (uid, gid int, err error)

// LookupOwner resolves names through the host account database. An empty
// group selects the user's primary group.
func LookupOwner(owner, group string) (int, int, error) {
	u, err := user.Lookup(owner)
	if err != nil {
		return 0, 0, fmt.Errorf("lookup user %q: %w", owner, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("user %q uid: %w", owner, err)
	}
	gidStr := u.Gid
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return 0, 0, fmt.Errorf("lookup group %q: %w", group, err)
		}
		gidStr = g.Gid
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return 0, 0, fmt.Errorf("group %q gid: %w", group, err)
	}
	return uid, gid, nil
}

// CurrentOwner ignores the requested names and resolves to the calling
// process. Staged trees use it so an unprivileged run can converge them.
func CurrentOwner(string, string) (int, int, error) {
	return os.Getuid(), os.Getgid(), nil
}

// Writer writes files and directories with explicit ownership under an
// optional root prefix.
type Writer struct {
	Root  string
	Owner Owner
	Chown func(path string, uid, gid int) error
}

// NewWriter returns a Writer using the host account database.
func NewWriter(root string) *Writer {
	return &Writer{Root: root, Owner: LookupOwner, Chown: os.Chown}
}

// Path maps an absolute host path under the writer root.
func (w *Writer) Path(p string) string { return Rooted(w.Root, p) }

func (w *Writer) ids(owner, group string) (int, int, error) {
	lookup := w.Owner
	if lookup == nil {
		lookup = LookupOwner
	}
	return lookup(owner, group)
}

func (w *Writer) chown(path string, uid, gid int) error {
	if w.Chown == nil {
		return os.Chown(path, uid, gid)
	}
	return w.Chown(path, uid, gid)
}

// WriteFile replaces path atomically: the content goes to a temp file in the
// same directory that already carries the final mode and ownership, is synced,
// then renamed over the target. Readers never observe partial content or a
// wrong mode. changed is false when content, mode and ownership already match.
func (w *Writer) WriteFile(path string, data []byte, owner, group string, mode os.FileMode) (changed bool, err error) {
	uid, gid, err := w.ids(owner, group)
	if err != nil {
		return false, err
	}
	target := w.Path(path)
	if same, err := matches(target, data, uid, gid, mode); err != nil {
		return false, err
	} else if same {
		return false, nil
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create parent dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = tmp.Chmod(mode.Perm()); err != nil {
		return false, fmt.Errorf("chmod temp file: %w", err)
	}
	if err = w.chown(tmpName, uid, gid); err != nil {
		return false, fmt.Errorf("chown temp file: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		return false, fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return false, fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return false, fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, target); err != nil {
		return false, fmt.Errorf("rename into place: %w", err)
	}
	syncDir(dir)
	return true, nil
}

// EnsureDir creates path when missing and converges its mode and ownership.
func (w *Writer) EnsureDir(path, owner, group string, mode os.FileMode) (changed bool, err error) {
	uid, gid, err := w.ids(owner, group)
	if err != nil {
		return false, err
	}
	target := w.Path(path)
	fi, err := os.Stat(target)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(target, mode.Perm()); err != nil {
			return false, fmt.Errorf("create dir: %w", err)
		}
		changed = true
	case err != nil:
		return false, err
	case !fi.IsDir():
		return false, fmt.Errorf("%s exists and is not a directory", path)
	}

	if fi == nil || fi.Mode().Perm() != mode.Perm() {
		if err := os.Chmod(target, mode.Perm()); err != nil {
			return false, fmt.Errorf("chmod dir: %w", err)
		}
		changed = changed || fi != nil
	}
	if fi == nil || !ownedBy(fi, uid, gid) {
		if err := w.chown(target, uid, gid); err != nil {
			return false, fmt.Errorf("chown dir: %w", err)
		}
		changed = true
	}
	return changed, nil
}

func matches(path string, data []byte, uid, gid int, mode os.FileMode) (bool, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !fi.Mode().IsRegular() || fi.Mode().Perm() != mode.Perm() || !ownedBy(fi, uid, gid) {
		return false, nil
	}
	cur, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return bytes.Equal(cur, data), nil
}

func ownedBy(fi os.FileInfo, uid, gid int) bool {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return true
	}
	return int(st.Uid) == uid && int(st.Gid) == gid
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
