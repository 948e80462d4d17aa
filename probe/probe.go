// Package probe turns the event stream of `go test -json` into test results.
package probe

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/probedock/probedock-go/footprint"
	"github.com/probedock/probedock-go/model"
	"github.com/rs/zerolog"
)

const (
	// Name and Version identify this probe in payloads.
	Name    = "probedock-go"
	Version = "0.1.0"

	// DefaultCategory applies when none is configured.
	DefaultCategory = "Go"

	// DataPackage is the result data entry holding the Go import path.
	DataPackage = "go.package"

	unfinishedMessage = "The test did not finish."
	maxLineBytes      = 4 << 20
)

// test2json actions
const (
	ActionStart  = "start"
	ActionRun    = "run"
	ActionPause  = "pause"
	ActionCont   = "cont"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionBench  = "bench"
	ActionOutput = "output"
)

// Event is one line of `go test -json` output.
type Event struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

type testID struct {
	pkg  string
	test string
}

type pending struct {
	id      testID
	action  string
	elapsed float64
	output  []string
}

type Probe struct {
	logger       zerolog.Logger
	category     string
	tags         []string
	tickets      []string
	contributors []string

	tests      map[testID]*pending
	order      []testID
	failedPkgs []string
	first      time.Time
	last       time.Time
}

// Option configures a Probe.
type Option func(*Probe)

// WithCategory sets the category of every result.
func WithCategory(category string) Option {
	return func(p *Probe) {
		if category != "" {
			p.category = category
		}
	}
}

// WithTags adds tags to every result.
func WithTags(tags ...string) Option {
	return func(p *Probe) {
		p.tags = append(p.tags, tags...)
	}
}

// WithTickets adds tickets to every result.
func WithTickets(tickets ...string) Option {
	return func(p *Probe) {
		p.tickets = append(p.tickets, tickets...)
	}
}

// WithContributors adds contributors to every result.
func WithContributors(contributors ...string) Option {
	return func(p *Probe) {
		p.contributors = append(p.contributors, contributors...)
	}
}

func New(logger zerolog.Logger, opts ...Option) *Probe {
	p := &Probe{
		logger:   logger,
		category: DefaultCategory,
		tests:    map[testID]*pending{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Read consumes a test2json stream until EOF. The test output is copied to
// echo when it is not nil, lines that are not events are copied verbatim.
func (p *Probe) Read(r io.Reader, echo io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil || ev.Action == "" {
			p.logger.Debug().Str("line", string(line)).Msg("Ignoring non-event line")
			if echo != nil {
				fmt.Fprintln(echo, string(line))
			}
			continue
		}

		if echo != nil && ev.Action == ActionOutput {
			io.WriteString(echo, ev.Output)
		}
		p.Handle(ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read test events: %w", err)
	}
	return nil
}

// Handle records one event.
func (p *Probe) Handle(ev Event) {
	if !ev.Time.IsZero() {
		if p.first.IsZero() || ev.Time.Before(p.first) {
			p.first = ev.Time
		}
		if ev.Time.After(p.last) {
			p.last = ev.Time
		}
	}

	if ev.Test == "" {
		if ev.Action == ActionFail {
			p.logger.Warn().Str("package", ev.Package).Msg("Package failed")
			p.failedPkgs = append(p.failedPkgs, ev.Package)
		}
		return
	}

	t := p.test(testID{pkg: ev.Package, test: ev.Test})
	switch ev.Action {
	case ActionOutput:
		t.output = append(t.output, ev.Output)
	case ActionPass, ActionFail, ActionSkip:
		t.action = ev.Action
		t.elapsed = ev.Elapsed
	}
}

func (p *Probe) test(id testID) *pending {
	if t, ok := p.tests[id]; ok {
		return t
	}
	t := &pending{id: id}
	p.tests[id] = t
	p.order = append(p.order, id)
	return t
}

// FailedPackages lists the packages go test reported as failed.
func (p *Probe) FailedPackages() []string {
	return append([]string(nil), p.failedPkgs...)
}

// Duration is the wall time between the first and the last event.
func (p *Probe) Duration() time.Duration {
	if p.first.IsZero() {
		return 0
	}
	return p.last.Sub(p.first)
}

// Results converts the recorded tests in the order they started. Tests
// without a final action are reported as failed.
func (p *Probe) Results() ([]*model.TestResult, error) {
	results := make([]*model.TestResult, 0, len(p.order))
	for _, id := range p.order {
		r, err := p.result(p.tests[id])
		if err != nil {
			return nil, fmt.Errorf("test %s in %s: %w", id.test, id.pkg, err)
		}
		results = append(results, r)
	}
	return results, nil
}

func (p *Probe) result(t *pending) (*model.TestResult, error) {
	top, sub, _ := strings.Cut(t.id.test, "/")

	spec := model.ResultSpec{
		Fingerprint:  footprint.Fingerprint(t.id.pkg, top, sub),
		Name:         t.id.test,
		Category:     p.category,
		Duration:     int64(math.Round(t.elapsed * 1000)),
		Passed:       t.action == ActionPass || t.action == ActionSkip,
		Tags:         p.tags,
		Tickets:      p.tickets,
		Contributors: p.contributors,
		Data:         map[string]string{DataPackage: t.id.pkg},
	}

	switch t.action {
	case ActionFail, ActionSkip:
		spec.Message = message(t.output)
	case "":
		spec.Message = strings.TrimSpace(unfinishedMessage + "\n" + message(t.output))
	}
	if t.action == ActionSkip {
		inactive := false
		spec.Active = &inactive
	}

	return model.NewTestResult(spec)
}

// message keeps the output written by the test itself, without the
// framing lines go test adds.
func message(output []string) string {
	var b strings.Builder
	for _, line := range output {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "=== ") || strings.HasPrefix(trimmed, "--- ") {
			continue
		}
		b.WriteString(line)
	}
	return strings.TrimSpace(b.String())
}

// Run builds a test run holding every recorded result.
func (p *Probe) Run(projectID, version string, opts ...model.RunOption) (*model.TestRun, error) {
	results, err := p.Results()
	if err != nil {
		return nil, err
	}

	opts = append([]model.RunOption{model.WithProbe(Name, Version)}, opts...)
	run, err := model.NewTestRun(projectID, version, opts...)
	if err != nil {
		return nil, err
	}
	run.Duration = p.Duration().Milliseconds()
	run.AddResults(results...)
	return run, nil
}
