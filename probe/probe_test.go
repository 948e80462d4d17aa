package probe

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/probedock/probedock-go/footprint"
	"github.com/probedock/probedock-go/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pkg = "example.com/calc"

func readEvents(t *testing.T, opts ...Option) (*Probe, string) {
	t.Helper()
	f, err := os.Open("testdata/events.jsonl")
	require.NoError(t, err)
	defer f.Close()

	var echo bytes.Buffer
	p := New(zerolog.Nop(), opts...)
	require.NoError(t, p.Read(f, &echo))
	return p, echo.String()
}

func TestResults(t *testing.T) {
	p, _ := readEvents(t)

	results, err := p.Results()
	require.NoError(t, err)
	require.Len(t, results, 5)

	tests := []struct {
		name     string
		passed   bool
		duration int64
		message  string
		active   *bool
	}{
		{name: "TestAdd", passed: true, duration: 120},
		{name: "TestDiv", passed: false, duration: 50, message: "No message available."},
		{name: "TestDiv/by_zero", passed: false, duration: 50, message: "calc_test.go:21: expected an error"},
		{name: "TestSlow", passed: true, message: "calc_test.go:40: needs a database", active: new(bool)},
		{name: "TestHang", passed: false, message: "The test did not finish.\npanic: boom"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := results[i]
			assert.Equal(t, tt.name, r.Name())
			assert.Equal(t, tt.passed, r.Passed())
			assert.Equal(t, tt.duration, r.Duration())
			assert.Equal(t, tt.message, r.Message())
			assert.Equal(t, DefaultCategory, r.Category())
			assert.Equal(t, pkg, r.Data()[DataPackage])

			active, ok := r.Active()
			if tt.active == nil {
				assert.False(t, ok)
			} else {
				assert.True(t, ok)
				assert.Equal(t, *tt.active, active)
			}
		})
	}
}

func TestFingerprints(t *testing.T) {
	p, _ := readEvents(t)
	results, err := p.Results()
	require.NoError(t, err)

	assert.Equal(t, footprint.Fingerprint(pkg, "TestAdd", ""), results[0].Fingerprint())
	assert.Equal(t, footprint.Fingerprint(pkg, "TestDiv", "by_zero"), results[2].Fingerprint())

	seen := map[string]bool{}
	for _, r := range results {
		assert.False(t, seen[r.Fingerprint()], r.Name())
		seen[r.Fingerprint()] = true
	}
}

func TestEcho(t *testing.T) {
	_, echo := readEvents(t)
	assert.Contains(t, echo, "--- PASS: TestAdd (0.12s)\n")
	assert.Contains(t, echo, "FAIL\texample.com/calc\t0.600s\n")
}

func TestNonEventLinesAreEchoed(t *testing.T) {
	var echo bytes.Buffer
	p := New(zerolog.Nop())
	input := "# example.com/broken\nbroken.go:3:1: syntax error\n{\"Action\":\"fail\",\"Package\":\"example.com/broken\"}\n"

	require.NoError(t, p.Read(strings.NewReader(input), &echo))
	assert.Equal(t, "# example.com/broken\nbroken.go:3:1: syntax error\n", echo.String())
	assert.Equal(t, []string{"example.com/broken"}, p.FailedPackages())

	results, err := p.Results()
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestOptions(t *testing.T) {
	p, _ := readEvents(t,
		WithCategory("Integration"),
		WithTags("b", "a"),
		WithTickets("JIRA-1"),
		WithContributors("jane@example.com"),
	)
	results, err := p.Results()
	require.NoError(t, err)

	r := results[0]
	assert.Equal(t, "Integration", r.Category())
	assert.Equal(t, []string{"a", "b"}, r.Tags())
	assert.Equal(t, []string{"JIRA-1"}, r.Tickets())
	assert.Equal(t, []string{"jane@example.com"}, r.Contributors())
}

func TestEmptyCategoryKeepsDefault(t *testing.T) {
	p := New(zerolog.Nop(), WithCategory(""))
	assert.Equal(t, DefaultCategory, p.category)
}

func TestRun(t *testing.T) {
	p, _ := readEvents(t)

	run, err := p.Run("abc123", "1.0.0", model.WithPipeline("nightly"))
	require.NoError(t, err)
	assert.Equal(t, int64(1500), run.Duration)
	assert.Equal(t, "nightly", run.Pipeline)
	require.NotNil(t, run.Probe)
	assert.Equal(t, Name, run.Probe.Name)
	assert.Len(t, run.Results, 5)
	assert.Equal(t, 2, run.Passed())

	_, err = p.Run("", "1.0.0")
	require.ErrorIs(t, err, model.ErrMissingProjectID)
}
