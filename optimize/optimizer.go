package optimize

import (
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"

	"github.com/probedock/probedock-go/footprint"
	"github.com/probedock/probedock-go/model"
	"github.com/rs/zerolog"
)

// Optimizer produces a reduced copy of a payload using a started store.
type Optimizer interface {
	Optimize(store Store, payload model.Payload) (model.Payload, error)
}

// For returns the optimizer matching the payload API version.
func For(logger zerolog.Logger, payload model.Payload) (Optimizer, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrUnexpectedPayload)
	}

	switch v := payload.APIVersion(); v {
	case model.APIVersion:
		return NewTestRunOptimizer(logger), nil
	default:
		return nil, fmt.Errorf("%w: no optimizer for API version %q", ErrUnexpectedPayload, v)
	}
}

// Nop returns payloads unchanged. It is used when caching is disabled.
type Nop struct{}

func (Nop) Optimize(_ Store, payload model.Payload) (model.Payload, error) {
	return payload, nil
}

// TestRunOptimizer prunes v1 test runs. Execution fields of every result
// are always kept; descriptive fields are dropped for results whose
// footprint did not change since the previous run.
type TestRunOptimizer struct {
	logger     zerolog.Logger
	footprints *footprint.Generator
}

// TestRunOptimizerOption configures a TestRunOptimizer.
type TestRunOptimizerOption func(*TestRunOptimizer)

// WithFootprintGenerator replaces the SHA-1 footprint generator.
func WithFootprintGenerator(g *footprint.Generator) TestRunOptimizerOption {
	return func(o *TestRunOptimizer) {
		o.footprints = g
	}
}

// NewTestRunOptimizer creates the v1 optimizer.
func NewTestRunOptimizer(logger zerolog.Logger, opts ...TestRunOptimizerOption) *TestRunOptimizer {
	o := &TestRunOptimizer{
		logger:     logger,
		footprints: footprint.New(footprint.WithLogger(logger)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize implements Optimizer. The payload must be a *model.TestRun.
func (o *TestRunOptimizer) Optimize(store Store, payload model.Payload) (model.Payload, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	run, ok := payload.(*model.TestRun)
	if !ok || run == nil {
		return nil, fmt.Errorf("%w: got %T", ErrUnexpectedPayload, payload)
	}

	optimized := copyTestRun(run)

	pruned := 0
	for _, result := range run.Results {
		fp, _ := o.footprints.Footprint(Content(result))
		key := result.CacheKey()

		changed, err := store.TestHasChanged(run.ProjectID, run.Version, key, fp)
		if err != nil {
			o.logger.Warn().Err(err).
				Str("project", run.ProjectID).
				Str("version", run.Version).
				Str("key", key).
				Msg("Optimizer store failed, the test is sent in full")
			changed = true
		}

		optimized.Results = append(optimized.Results, result.Copy(changed))
		if !changed {
			pruned++
		}

		// Recorded whatever the outcome so the next run compares against this one
		if err := store.StoreTestFootprint(run.ProjectID, run.Version, key, fp); err != nil {
			o.logger.Warn().Err(err).
				Str("project", run.ProjectID).
				Str("version", run.Version).
				Str("key", key).
				Msg("Unable to store the test footprint")
		}
	}

	o.logger.Debug().
		Int("results", len(run.Results)).
		Int("pruned", pruned).
		Msg("Optimized test run")

	return optimized, nil
}

// copyTestRun copies everything but the results. Reports are never pruned.
func copyTestRun(run *model.TestRun) *model.TestRun {
	c := *run
	c.Results = make([]*model.TestResult, 0, len(run.Results))
	c.Reports = append([]model.TestReport{}, run.Reports...)
	c.Context = maps.Clone(run.Context)
	c.Data = maps.Clone(run.Data)
	if run.Probe != nil {
		probe := *run.Probe
		c.Probe = &probe
	}
	return &c
}

// Content builds the canonical string a result footprint is computed over:
// category, name, active flag, tags, tickets, data entries and contributors.
// Sets and data keys are taken in sorted order and every value is followed
// by a NUL separator.
func Content(r *model.TestResult) string {
	var sb strings.Builder

	field := func(s string) {
		sb.WriteString(s)
		sb.WriteByte(0)
	}

	field(r.Category())
	field(r.Name())
	if active, ok := r.Active(); ok {
		field(strconv.FormatBool(active))
	} else {
		field("")
	}

	sb.WriteString("g")
	for _, tag := range r.Tags() {
		field(tag)
	}
	sb.WriteString("t")
	for _, ticket := range r.Tickets() {
		field(ticket)
	}

	sb.WriteString("a")
	data := r.Data()
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		field(k)
		field(data[k])
	}

	sb.WriteString("u")
	for _, c := range r.Contributors() {
		field(c)
	}

	return sb.String()
}
