package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOSResolver_CanonicalizeJoinsRelativeToBaseDir(t *testing.T) {
	r := osResolver{}
	got, err := r.Canonicalize("/a/b", "./c.regis")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Clean("/a/b/c.regis") {
		t.Fatalf("got %q", got)
	}
}

func TestOSResolver_CanonicalizeLeavesAbsolutePathAlone(t *testing.T) {
	r := osResolver{}
	got, err := r.Canonicalize("/a/b", "/x/y.regis")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Clean("/x/y.regis") {
		t.Fatalf("got %q", got)
	}
}

func TestOSResolver_ReadReturnsFileContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.regis")
	if err := os.WriteFile(path, []byte("export let x = 1;"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	r := osResolver{}
	got, err := r.Read(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "export let x = 1;" {
		t.Fatalf("got %q", got)
	}
}

func TestRealSleeper_ReturnsEarlyOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := (realSleeper{}).Sleep(ctx, 30); err == nil {
		t.Fatalf("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep did not return promptly on cancellation")
	}
}

func TestRealSleeper_NonPositiveDurationReturnsImmediately(t *testing.T) {
	if err := (realSleeper{}).Sleep(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
