// Package serializer turns payloads into the bytes sent to the server.
package serializer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/probedock/probedock-go/model"
)

// ContentType identifies the v1 payload schema.
const ContentType = "application/vnd.probedock.payload.v1+json; charset=UTF-8"

// Serializer writes and reads payloads.
type Serializer interface {
	Serialize(w io.Writer, payload model.Payload, pretty bool) error
	Deserialize(r io.Reader) (*model.TestRun, error)
}

// ErrEmptyResult is returned when a payload lists a null result.
var ErrEmptyResult = errors.New("the payload contains an empty result")

// JSON is the default serializer. Absent values are omitted.
type JSON struct{}

func (JSON) Serialize(w io.Writer, payload model.Payload, pretty bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("failed to serialize payload: %w", err)
	}
	return nil
}

func (JSON) Deserialize(r io.Reader) (*model.TestRun, error) {
	var run model.TestRun
	if err := json.NewDecoder(r).Decode(&run); err != nil {
		return nil, fmt.Errorf("failed to deserialize payload: %w", err)
	}
	if run.ProjectID == "" {
		return nil, model.ErrMissingProjectID
	}
	if run.Version == "" {
		return nil, model.ErrMissingVersion
	}
	for i, r := range run.Results {
		if err := checkResult(r); err != nil {
			return nil, fmt.Errorf("invalid result %d: %w", i, err)
		}
	}
	return &run, nil
}

func checkResult(r *model.TestResult) error {
	switch {
	case r == nil:
		return ErrEmptyResult
	case r.Fingerprint() == "":
		return model.ErrMissingFingerprint
	case r.Duration() < 0:
		return model.ErrNegativeDuration
	}
	return nil
}

// Marshal serializes payload into memory.
func Marshal(s Serializer, payload model.Payload, pretty bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Serialize(&buf, payload, pretty); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
