package fsutil

import (
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("HOME override only on unix")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)

	// raw path unaffected
	if got, err := ExpandHome("/etc/modelprov.yaml"); err != nil || got != "/etc/modelprov.yaml" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome("~"); err != nil || got != home {
		t.Fatalf("expected %q, got %q err=%v", home, got, err)
	}
	got, err := ExpandHome("~/deploy/proxy.toml")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if want := filepath.Join(home, "deploy", "proxy.toml"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
