package optimize

import (
	"errors"
	"testing"

	"github.com/probedock/probedock-go/footprint"
	"github.com/probedock/probedock-go/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResult(t *testing.T, fingerprint string) *model.TestResult {
	t.Helper()
	active := true
	r, err := model.NewTestResult(model.ResultSpec{
		Key:         "key-" + fingerprint,
		Fingerprint: fingerprint,
		Name:        "name " + fingerprint,
		Category:    "category",
		Duration:    10,
		Message:     "message",
		Passed:      true,
		Active:      &active,
		Tags:        []string{"tag1", "tag2"},
		Tickets:     []string{"ticket1", "ticket2"},
		Data:        map[string]string{"dataKey": "dataValue"},
	})
	require.NoError(t, err)
	return r
}

func newRun(t *testing.T, fingerprints ...string) *model.TestRun {
	t.Helper()
	run, err := model.NewTestRun("projectAbcd", "version", model.WithReportUID("report-1"))
	require.NoError(t, err)
	run.Duration = 10
	for _, fp := range fingerprints {
		run.AddResults(newResult(t, fp))
	}
	return run
}

func startedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.Start(StoreConfig{}))
	return store
}

func optimizeRun(t *testing.T, store Store, run *model.TestRun) *model.TestRun {
	t.Helper()
	out, err := NewTestRunOptimizer(zerolog.Nop()).Optimize(store, run)
	require.NoError(t, err)
	optimized, ok := out.(*model.TestRun)
	require.True(t, ok)
	return optimized
}

func requireFull(t *testing.T, r *model.TestResult) {
	t.Helper()
	require.NotEmpty(t, r.Name(), "name must be filled")
	require.NotEmpty(t, r.Category(), "category must be filled")
	require.NotEmpty(t, r.Tags(), "tags must be filled")
	require.NotEmpty(t, r.Tickets(), "tickets must be filled")
	require.NotEmpty(t, r.Data(), "data must be filled")
	_, ok := r.Active()
	require.True(t, ok, "active must be filled")
}

func requirePruned(t *testing.T, original, r *model.TestResult) {
	t.Helper()
	require.Empty(t, r.Name())
	require.Empty(t, r.Category())
	require.Nil(t, r.Tags())
	require.Nil(t, r.Tickets())
	require.Nil(t, r.Data())
	_, ok := r.Active()
	require.False(t, ok)

	require.Equal(t, original.Key(), r.Key())
	require.Equal(t, original.Fingerprint(), r.Fingerprint())
	require.Equal(t, original.Duration(), r.Duration())
	require.Equal(t, original.Passed(), r.Passed())
	require.Equal(t, original.Message(), r.Message())
}

func TestOptimizeFirstRunIsComplete(t *testing.T) {
	store := startedStore(t)
	run := newRun(t, "a", "b")

	optimized := optimizeRun(t, store, run)

	require.Len(t, optimized.Results, 2)
	for _, r := range optimized.Results {
		requireFull(t, r)
	}
	require.Equal(t, run.ProjectID, optimized.ProjectID)
	require.Equal(t, run.Version, optimized.Version)
	require.Equal(t, run.Duration, optimized.Duration)
	require.Equal(t, run.Reports, optimized.Reports)
}

func TestOptimizeSecondRunIsPruned(t *testing.T) {
	store := startedStore(t)
	run := newRun(t, "a", "b")

	optimizeRun(t, store, run)
	optimized := optimizeRun(t, store, run)

	require.Len(t, optimized.Results, 2)
	for i, r := range optimized.Results {
		requirePruned(t, run.Results[i], r)
	}
	require.Equal(t, run.Reports, optimized.Reports)
}

func TestOptimizeDoesNotTouchOriginal(t *testing.T) {
	store := startedStore(t)
	run := newRun(t, "a")
	before := run.Results[0].Copy(true)

	optimizeRun(t, store, run)
	optimizeRun(t, store, run)

	require.Equal(t, before, run.Results[0])
}

func TestOptimizeChangedFieldInvalidatesOnlyThatResult(t *testing.T) {
	tests := []struct {
		name   string
		change func(r *model.TestResult)
	}{
		{name: "name", change: func(r *model.TestResult) { r.SetName("different name") }},
		{name: "category", change: func(r *model.TestResult) { r.SetCategory("different category") }},
		{name: "active", change: func(r *model.TestResult) { r.SetActive(false) }},
		{name: "tags", change: func(r *model.TestResult) { r.AddTags("new tag") }},
		{name: "tickets", change: func(r *model.TestResult) { r.AddTickets("new ticket") }},
		{name: "data", change: func(r *model.TestResult) { r.PutData("new key", "new value") }},
		{name: "contributors", change: func(r *model.TestResult) { r.AddContributors("someone@example.com") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := startedStore(t)
			run := newRun(t, "a", "b", "c")

			optimizeRun(t, store, run)
			tt.change(run.Results[1])
			optimized := optimizeRun(t, store, run)

			requirePruned(t, run.Results[0], optimized.Results[0])
			requireFull(t, optimized.Results[1])
			requirePruned(t, run.Results[2], optimized.Results[2])
		})
	}
}

func TestOptimizeProjectOrVersionChange(t *testing.T) {
	store := startedStore(t)
	run := newRun(t, "a")
	optimizeRun(t, store, run)

	run.ProjectID = "different project"
	requireFull(t, optimizeRun(t, store, run).Results[0])

	run.Version = "different version"
	requireFull(t, optimizeRun(t, store, run).Results[0])
}

func TestOptimizeTracksMostRecentObservation(t *testing.T) {
	store := startedStore(t)
	run := newRun(t, "a")

	optimizeRun(t, store, run)
	requirePruned(t, run.Results[0], optimizeRun(t, store, run).Results[0])

	run.Results[0].AddTags("new tag")
	requireFull(t, optimizeRun(t, store, run).Results[0])

	requirePruned(t, run.Results[0], optimizeRun(t, store, run).Results[0])
}

func TestOptimizeWithoutFootprintAlwaysSendsFull(t *testing.T) {
	store := startedStore(t)
	run := newRun(t, "a")
	o := NewTestRunOptimizer(zerolog.Nop(), WithFootprintGenerator(footprint.New(footprint.WithHash(nil))))

	for i := 0; i < 3; i++ {
		out, err := o.Optimize(store, run)
		require.NoError(t, err)
		requireFull(t, out.(*model.TestRun).Results[0])
	}
}

type failingStore struct {
	*MemoryStore
	calls int
}

func (s *failingStore) TestHasChanged(project, version, key, footprint string) (bool, error) {
	s.calls++
	return false, errors.New("backend unavailable")
}

func TestOptimizeStoreFailureFailsSafe(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, store.Start(StoreConfig{}))
	run := newRun(t, "a", "b")

	optimized := optimizeRun(t, store, run)

	require.Equal(t, 2, store.calls)
	for _, r := range optimized.Results {
		requireFull(t, r)
	}
}

func TestOptimizeInvalidInput(t *testing.T) {
	o := NewTestRunOptimizer(zerolog.Nop())

	_, err := o.Optimize(nil, newRun(t, "a"))
	require.ErrorIs(t, err, ErrNilStore)

	_, err = o.Optimize(startedStore(t), nil)
	require.ErrorIs(t, err, ErrUnexpectedPayload)

	_, err = o.Optimize(startedStore(t), otherPayload{})
	require.ErrorIs(t, err, ErrUnexpectedPayload)
}

type otherPayload struct{}

func (otherPayload) APIVersion() string { return "v2" }

func TestFor(t *testing.T) {
	o, err := For(zerolog.Nop(), newRun(t))
	require.NoError(t, err)
	assert.IsType(t, &TestRunOptimizer{}, o)

	_, err = For(zerolog.Nop(), otherPayload{})
	require.ErrorIs(t, err, ErrUnexpectedPayload)
}

func TestNop(t *testing.T) {
	run := newRun(t, "a")
	out, err := Nop{}.Optimize(nil, run)
	require.NoError(t, err)
	require.Same(t, run, out)
}

func TestContentIsDeterministic(t *testing.T) {
	a := newResult(t, "a")
	b := newResult(t, "a")
	b.AddTags("tag2", "tag1")

	require.Equal(t, Content(a), Content(b))
}

func TestContentSeparatesFields(t *testing.T) {
	a := newResult(t, "a")
	a.SetCategory("ab")
	a.SetName("c")

	b := newResult(t, "a")
	b.SetCategory("a")
	b.SetName("bc")

	require.NotEqual(t, Content(a), Content(b))
}
