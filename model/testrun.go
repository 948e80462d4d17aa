package model

import (
	"errors"
	"maps"
)

// APIVersion is the payload schema version produced by this package.
const APIVersion = "v1"

// DataReportUID is the run data entry holding the report UID.
const DataReportUID = "probedock.report.uid"

var (
	ErrMissingProjectID = errors.New("the project ID must be present")
	ErrMissingVersion   = errors.New("the project version must be present")
)

// Payload is anything the connector can transmit.
type Payload interface {
	// APIVersion identifies the schema the payload is written for
	APIVersion() string
}

// TestRun represents one batch of executed tests sent as a single payload
type TestRun struct {
	// Project API identifier
	ProjectID string `json:"projectId"`
	// Version of the project under test
	Version string `json:"version"`
	// Total duration in milliseconds
	Duration int64 `json:"duration"`
	// Optional pipeline and stage the run belongs to
	Pipeline string `json:"pipeline,omitempty"`
	Stage    string `json:"stage,omitempty"`
	// Runtime information of the process that ran the tests
	Context Context `json:"context,omitempty"`
	// Probe that produced the run
	Probe *Probe `json:"probe,omitempty"`
	// Test results in execution order
	Results []*TestResult `json:"results"`
	// Free-form run data
	Data map[string]string `json:"data,omitempty"`
	// Reports the run contributes to
	Reports []TestReport `json:"reports"`
}

// TestReport is an opaque marker grouping runs into one report
type TestReport struct {
	UID string `json:"uid"`
}

// Probe identifies the client that produced a run
type Probe struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RunOption configures a TestRun at creation.
type RunOption func(*TestRun)

// WithPipeline sets the pipeline, ignored when empty.
func WithPipeline(pipeline string) RunOption {
	return func(r *TestRun) {
		r.Pipeline = pipeline
	}
}

// WithStage sets the stage, ignored when empty.
func WithStage(stage string) RunOption {
	return func(r *TestRun) {
		r.Stage = stage
	}
}

// WithContext attaches runtime information.
func WithContext(ctx Context) RunOption {
	return func(r *TestRun) {
		r.Context = ctx
	}
}

// WithProbe sets the probe information.
func WithProbe(name, version string) RunOption {
	return func(r *TestRun) {
		r.Probe = &Probe{Name: name, Version: version}
	}
}

// WithReportUID adds a report and mirrors its UID in the run data.
func WithReportUID(uid string) RunOption {
	return func(r *TestRun) {
		if uid == "" {
			return
		}
		r.Reports = append(r.Reports, TestReport{UID: uid})
		r.AddData(map[string]string{DataReportUID: uid})
	}
}

// WithReports appends existing reports.
func WithReports(reports ...TestReport) RunOption {
	return func(r *TestRun) {
		r.Reports = append(r.Reports, reports...)
	}
}

// WithData merges data into the run data.
func WithData(data map[string]string) RunOption {
	return func(r *TestRun) {
		r.AddData(data)
	}
}

// NewTestRun creates a run for a project version. Both values are required.
func NewTestRun(projectID, version string, opts ...RunOption) (*TestRun, error) {
	if projectID == "" {
		return nil, ErrMissingProjectID
	}
	if version == "" {
		return nil, ErrMissingVersion
	}

	r := &TestRun{
		ProjectID: projectID,
		Version:   version,
		Results:   []*TestResult{},
		Reports:   []TestReport{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// APIVersion implements Payload.
func (r *TestRun) APIVersion() string {
	return APIVersion
}

// AddResults appends results in order.
func (r *TestRun) AddResults(results ...*TestResult) {
	r.Results = append(r.Results, results...)
}

// AddData merges data into the run data.
func (r *TestRun) AddData(data map[string]string) {
	if len(data) == 0 {
		return
	}
	if r.Data == nil {
		r.Data = make(map[string]string, len(data))
	}
	maps.Copy(r.Data, data)
}

// Passed counts the passed results.
func (r *TestRun) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.Passed() {
			n++
		}
	}
	return n
}
