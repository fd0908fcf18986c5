package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases and trims", "  Pokhara  ", "pokhara"},
		{"strips administrative suffix", "Kathmandu Metropolitan City", "kathmandu"},
		{"strips romanized suffix", "Ilam Nagarpalika", "ilam"},
		{"keeps ward numbers", "Ward No. 32", "32"},
		{"collapses punctuation", "Naya-Bazar, Tole", "naya bazar"},
		{"keeps devanagari runes", "वडा नं ५", "वडा नं ५"},
		{"all-noise name falls back to folded form", "Municipality", "municipality"},
		{"multi-word survives", "Naya Sadak", "naya sadak"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeStableForMatching(t *testing.T) {
	// Variants that must land on the same normalized key.
	assert.Equal(t, Normalize("Kathmandu"), Normalize("kathmandu metropolitan city"))
	assert.Equal(t, Normalize("Ward 5"), Normalize("ward no. 5"))
}
