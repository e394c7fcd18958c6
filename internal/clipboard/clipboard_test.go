package clipboard

import (
	"context"
	"errors"
	"testing"
	"time"
)

func stub(t *testing.T, isUnsupported bool, write func(string) error) {
	t.Helper()
	prevWrite, prevUnsupported := writeAll, unsupported
	writeAll = write
	unsupported = func() bool { return isUnsupported }
	t.Cleanup(func() {
		writeAll, unsupported = prevWrite, prevUnsupported
	})
}

func TestCopyWritesText(t *testing.T) {
	var got string
	stub(t, false, func(s string) error {
		got = s
		return nil
	})

	if err := Copy(context.Background(), "chart.png"); err != nil {
		t.Fatalf("expected copy to succeed, got %v", err)
	}
	if got != "chart.png" {
		t.Fatalf("unexpected clipboard contents %q", got)
	}
}

func TestCopyUnavailable(t *testing.T) {
	stub(t, true, func(string) error {
		t.Fatal("write must not be called")
		return nil
	})

	if Available() {
		t.Fatalf("expected clipboard to be unavailable")
	}
	if err := Copy(context.Background(), "x"); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestCopyRejectsEmptyText(t *testing.T) {
	stub(t, false, func(string) error { return nil })
	if err := Copy(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty text")
	}
}

func TestCopyWrapsFailures(t *testing.T) {
	boom := errors.New("xclip exited 1")
	stub(t, false, func(string) error { return boom })
	if err := Copy(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestCopyHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stub(t, false, func(string) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := Copy(ctx, "x"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
