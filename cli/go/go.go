package gocmd

// go.go provides utilities for executing Go commands.

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// List runs 'go list' on a package pattern and returns the packages it matches.
// If an error occurs, it includes a user-friendly error message.
func List(ctx context.Context, pattern string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "go", "list", pattern)

	// Capture stdout and stderr separately
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, listError(pattern, stderr.String(), err)
	}

	output := strings.TrimSpace(stdout.String())
	if output == "" {
		return []string{}, nil
	}
	return strings.Split(output, "\n"), nil
}

// listError simplifies the common go list failures.
func listError(pattern, stderr string, err error) error {
	msg := strings.TrimSpace(stderr)

	switch {
	case strings.Contains(msg, "no Go files in"):
		return fmt.Errorf("invalid package path %q: directory contains no Go files", pattern)
	case strings.Contains(msg, "is not in std"),
		strings.Contains(msg, "is not in GOROOT"),
		strings.Contains(msg, "cannot find package"):
		return fmt.Errorf("invalid package path %q: package not found", pattern)
	case strings.Contains(msg, "matched no packages"):
		return fmt.Errorf("invalid package path %q: pattern matched no packages", pattern)
	}

	if first, _, _ := strings.Cut(msg, "\n"); first != "" {
		return fmt.Errorf("invalid package path %q: %s", pattern, first)
	}
	return fmt.Errorf("invalid package path %q: %w", pattern, err)
}

// TestJSON creates the command running 'go test -json' with args.
func TestJSON(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "go", append([]string{"test", "-json"}, args...)...)
}
