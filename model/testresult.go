package model

import (
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"unicode/utf8"
)

const (
	// DataFingerprint is the data entry mirroring the result fingerprint.
	DataFingerprint = "fingerprint"

	// MessageMaxBytes is the largest message accepted by the server.
	MessageMaxBytes = 50000

	noMessage = "No message available."
)

var (
	ErrNegativeDuration   = errors.New("the duration cannot be negative")
	ErrMissingFingerprint = errors.New("the fingerprint is mandatory")
)

// TestResult is one executed test. Identity and execution fields are always
// transmitted; descriptive fields may be pruned by the payload optimizer.
//
// Sets (tags, tickets, contributors) are kept deduplicated and sorted, and
// every accessor returns a copy so results never share state.
type TestResult struct {
	// Optional user-defined key
	key string
	// Stable identity hash of namespace, type and member names
	fingerprint string

	// Descriptive fields
	name         string
	category     string
	active       *bool
	tags         []string
	tickets      []string
	contributors []string
	data         map[string]string

	// Execution fields, duration is in milliseconds
	duration int64
	passed   bool
	message  string
}

// ResultSpec holds the raw values a TestResult is created from.
type ResultSpec struct {
	Key          string
	Fingerprint  string
	Name         string
	Category     string
	Duration     int64
	Message      string
	Passed       bool
	Active       *bool
	Contributors []string
	Tags         []string
	Tickets      []string
	Data         map[string]string
}

// NewTestResult validates spec and builds a TestResult from it.
func NewTestResult(spec ResultSpec) (*TestResult, error) {
	if spec.Duration < 0 {
		return nil, ErrNegativeDuration
	}
	if spec.Fingerprint == "" {
		return nil, ErrMissingFingerprint
	}

	r := &TestResult{
		key:         spec.Key,
		fingerprint: spec.Fingerprint,
		name:        spec.Name,
		category:    spec.Category,
		duration:    spec.Duration,
		passed:      spec.Passed,
		message:     normalizeMessage(spec.Message, spec.Passed),
	}
	if spec.Active != nil {
		r.SetActive(*spec.Active)
	}
	r.AddTags(spec.Tags...)
	r.AddTickets(spec.Tickets...)
	r.AddContributors(spec.Contributors...)
	r.AddData(spec.Data)

	// Helps the server migrate results stored before fingerprints existed
	r.PutData(DataFingerprint, spec.Fingerprint)

	return r, nil
}

func normalizeMessage(message string, passed bool) string {
	if !passed && message == "" {
		return noMessage
	}
	return truncateMessage(message)
}

func truncateMessage(message string) string {
	if len(message) <= MessageMaxBytes {
		return message
	}
	cut := MessageMaxBytes - 3
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut] + "..."
}

func (r *TestResult) Key() string         { return r.key }
func (r *TestResult) Fingerprint() string { return r.fingerprint }
func (r *TestResult) Name() string        { return r.name }
func (r *TestResult) Category() string    { return r.category }
func (r *TestResult) Duration() int64     { return r.duration }
func (r *TestResult) Passed() bool        { return r.passed }
func (r *TestResult) Message() string     { return r.message }

// CacheKey returns the key under which the optimizer records the result.
func (r *TestResult) CacheKey() string {
	if r.fingerprint != "" {
		return r.fingerprint
	}
	return r.key
}

// Active reports the active flag and whether it was set at all.
func (r *TestResult) Active() (active bool, ok bool) {
	if r.active == nil {
		return false, false
	}
	return *r.active, true
}

func (r *TestResult) Tags() []string         { return slices.Clone(r.tags) }
func (r *TestResult) Tickets() []string      { return slices.Clone(r.tickets) }
func (r *TestResult) Contributors() []string { return slices.Clone(r.contributors) }

// Data returns a copy of the data entries, nil when there are none.
func (r *TestResult) Data() map[string]string {
	if r.data == nil {
		return nil
	}
	return maps.Clone(r.data)
}

func (r *TestResult) SetName(name string)         { r.name = name }
func (r *TestResult) SetCategory(category string) { r.category = category }

func (r *TestResult) SetActive(active bool) {
	r.active = &active
}

func (r *TestResult) AddTags(tags ...string)       { r.tags = addToSet(r.tags, tags) }
func (r *TestResult) AddTickets(tickets ...string) { r.tickets = addToSet(r.tickets, tickets) }
func (r *TestResult) AddContributors(c ...string)  { r.contributors = addToSet(r.contributors, c) }
func (r *TestResult) PutData(key, value string)    { r.AddData(map[string]string{key: value}) }

// AddData merges data into the result data.
func (r *TestResult) AddData(data map[string]string) {
	if len(data) == 0 {
		return
	}
	if r.data == nil {
		r.data = make(map[string]string, len(data))
	}
	maps.Copy(r.data, data)
}

// Copy returns a new result carrying the identity and execution fields.
// When full is true the descriptive fields are copied as well.
func (r *TestResult) Copy(full bool) *TestResult {
	c := &TestResult{
		key:         r.key,
		fingerprint: r.fingerprint,
		duration:    r.duration,
		passed:      r.passed,
		message:     r.message,
	}
	if !full {
		return c
	}

	c.name = r.name
	c.category = r.category
	if r.active != nil {
		c.SetActive(*r.active)
	}
	c.tags = slices.Clone(r.tags)
	c.tickets = slices.Clone(r.tickets)
	c.contributors = slices.Clone(r.contributors)
	c.data = r.Data()
	return c
}

// addToSet merges values into a sorted, deduplicated slice. Empty values
// are ignored.
func addToSet(set []string, values []string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		i, found := slices.BinarySearch(set, v)
		if !found {
			set = slices.Insert(set, i, v)
		}
	}
	return set
}

type testResultJSON struct {
	Key          string            `json:"k,omitempty"`
	Fingerprint  string            `json:"f,omitempty"`
	Name         string            `json:"n,omitempty"`
	Passed       bool              `json:"p"`
	Active       *bool             `json:"v,omitempty"`
	Duration     int64             `json:"d"`
	Message      string            `json:"m,omitempty"`
	Category     string            `json:"c,omitempty"`
	Tags         []string          `json:"g,omitempty"`
	Tickets      []string          `json:"t,omitempty"`
	Contributors []string          `json:"u,omitempty"`
	Data         map[string]string `json:"a,omitempty"`
}

// MarshalJSON encodes the result with the v1 payload short field names.
func (r *TestResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(testResultJSON{
		Key:          r.key,
		Fingerprint:  r.fingerprint,
		Name:         r.name,
		Passed:       r.passed,
		Active:       r.active,
		Duration:     r.duration,
		Message:      r.message,
		Category:     r.category,
		Tags:         r.tags,
		Tickets:      r.tickets,
		Contributors: r.contributors,
		Data:         r.data,
	})
}

// UnmarshalJSON decodes a result previously encoded by MarshalJSON.
func (r *TestResult) UnmarshalJSON(b []byte) error {
	var raw testResultJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*r = TestResult{
		key:         raw.Key,
		fingerprint: raw.Fingerprint,
		name:        raw.Name,
		category:    raw.Category,
		active:      raw.Active,
		duration:    raw.Duration,
		passed:      raw.Passed,
		message:     raw.Message,
	}
	r.AddTags(raw.Tags...)
	r.AddTickets(raw.Tickets...)
	r.AddContributors(raw.Contributors...)
	r.AddData(raw.Data)
	return nil
}
