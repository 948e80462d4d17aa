package model

import "maps"

// MetaData builds the free-form data map of a result or a run.
type MetaData struct {
	data map[string]string
}

// NewMetaData returns an empty builder.
func NewMetaData() *MetaData {
	return &MetaData{data: map[string]string{}}
}

// Add sets one entry. Empty values are skipped.
func (m *MetaData) Add(name, value string) *MetaData {
	if value != "" {
		m.data[name] = value
	}
	return m
}

// Merge copies all entries of other.
func (m *MetaData) Merge(other *MetaData) *MetaData {
	maps.Copy(m.data, other.data)
	return m
}

// Map returns a copy of the entries.
func (m *MetaData) Map() map[string]string {
	return maps.Clone(m.data)
}
