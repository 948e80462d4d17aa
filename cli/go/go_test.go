package gocmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListError(t *testing.T) {
	tests := []struct {
		name     string
		stderr   string
		expected string
	}{
		{
			name:     "no go files",
			stderr:   "no Go files in /src/empty",
			expected: `invalid package path "./x": directory contains no Go files`,
		},
		{
			name:     "not found",
			stderr:   "package foo is not in std (/usr/lib/go/src/foo)",
			expected: `invalid package path "./x": package not found`,
		},
		{
			name:     "no match",
			stderr:   "go: warning: \"./x/...\" matched no packages",
			expected: `invalid package path "./x": pattern matched no packages`,
		},
		{
			name:     "first line",
			stderr:   "something broke\nmore details",
			expected: `invalid package path "./x": something broke`,
		},
		{
			name:     "empty stderr",
			expected: `invalid package path "./x": exit status 1`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := listError("./x", tt.stderr, errors.New("exit status 1"))
			assert.EqualError(t, err, tt.expected)
		})
	}
}

func TestTestJSON(t *testing.T) {
	cmd := TestJSON(context.Background(), "-run", "TestA", "./...")
	assert.Equal(t, []string{"go", "test", "-json", "-run", "TestA", "./..."}, cmd.Args)
}
