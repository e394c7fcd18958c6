package clipboard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
)

var ErrToolNotFound = errors.New("clipboard tool not found")

var (
	writeAll    = clipboard.WriteAll
	unsupported = func() bool { return clipboard.Unsupported }
)

func Available() bool { return !unsupported() }

// Copy places text on the system clipboard. The write runs in the
// background so a hung clipboard helper cannot outlive ctx.
func Copy(ctx context.Context, text string) error {
	if unsupported() {
		return ErrToolNotFound
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("nothing to copy")
	}

	done := make(chan error, 1)
	go func() { done <- writeAll(text) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("clipboard command failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("clipboard write: %w", ctx.Err())
	}
}
