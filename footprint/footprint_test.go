package footprint

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFootprint(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "plain string",
			content: "fingerprint",
			want:    "b5448ce070e8ff567c4870e9fe0aeba3c0a98330",
		},
		{
			name:    "empty string",
			content: "",
			want:    "da39a3ee5e6b4b0d3255bfef95601890afd80709",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Footprint(tt.content)
			require.Equal(t, tt.want, got)
			require.Equal(t, got, Footprint(tt.content))
		})
	}
}

func TestFingerprint(t *testing.T) {
	require.Equal(t, "5c72161022fb8bde99c23bcef6bac287f153dfce", Fingerprint("package", "class", "method"))
	require.Equal(t, Footprint("package.class.method"), Fingerprint("package", "class", "method"))
}

func TestFootprintNearDuplicates(t *testing.T) {
	inputs := []string{
		"category/name/true",
		"category/name/True",
		"category/name/true ",
		"Category/name/true",
		"category/nam/true",
	}

	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		fp := Footprint(in)
		assert.Len(t, fp, 40)
		if prev, ok := seen[fp]; ok {
			t.Errorf("footprint collision between %q and %q", prev, in)
		}
		seen[fp] = in
	}
}

func TestGeneratorWithoutHash(t *testing.T) {
	g := New(WithHash(nil))

	fp, ok := g.Footprint("anything")
	require.False(t, ok)
	require.Empty(t, fp)

	fp, ok = g.Fingerprint("a", "b", "c")
	require.False(t, ok)
	require.Empty(t, fp)
}

func TestGeneratorCustomHash(t *testing.T) {
	g := New(WithHash(sha256.New))

	fp, ok := g.Footprint("fingerprint")
	require.True(t, ok)
	require.Len(t, fp, 64)
}
