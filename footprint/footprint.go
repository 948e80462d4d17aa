// Package footprint computes the one-way content hashes used to identify
// tests (fingerprints) and to detect changes in their descriptive data
// (footprints).
package footprint

import (
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/rs/zerolog"
)

// Generator hashes strings into lowercase hexadecimal digests.
type Generator struct {
	logger  zerolog.Logger
	newHash func() hash.Hash
}

// Option configures a Generator.
type Option func(*Generator)

// WithHash replaces the hash primitive. A nil constructor makes every
// footprint absent.
func WithHash(newHash func() hash.Hash) Option {
	return func(g *Generator) {
		g.newHash = newHash
	}
}

// WithLogger sets the logger used to report an unavailable hash primitive.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// New creates a Generator backed by SHA-1. SHA-1 keeps the digests
// compatible with the fingerprints the Probe Dock server already stores.
func New(opts ...Option) *Generator {
	g := &Generator{
		logger:  zerolog.Nop(),
		newHash: sha1.New,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Footprint returns the digest of the UTF-8 bytes of content. The second
// value is false when no digest could be computed; callers must then treat
// the content as changed.
func (g *Generator) Footprint(content string) (string, bool) {
	if g == nil || g.newHash == nil {
		if g != nil {
			g.logger.Warn().Int("length", len(content)).Msg("Unable to calculate the footprint, no hash primitive available")
		}
		return "", false
	}

	h := g.newHash()
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil)), true
}

// Fingerprint returns the identity digest of a test member, computed over
// namespace, type name and member name joined with ".".
func (g *Generator) Fingerprint(namespace, typeName, member string) (string, bool) {
	return g.Footprint(strings.Join([]string{namespace, typeName, member}, "."))
}

var defaultGenerator = New()

// Footprint hashes content with the default SHA-1 generator.
func Footprint(content string) string {
	fp, _ := defaultGenerator.Footprint(content)
	return fp
}

// Fingerprint hashes namespace.typeName.member with the default generator.
func Fingerprint(namespace, typeName, member string) string {
	fp, _ := defaultGenerator.Fingerprint(namespace, typeName, member)
	return fp
}
