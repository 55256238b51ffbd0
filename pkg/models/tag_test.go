package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTag(t *testing.T) {
	assert.Equal(t, "utility bill", NormalizeTag("  Utility Bill "))
	assert.Equal(t, "acme", NormalizeTag("ACME"))
	assert.Equal(t, "", NormalizeTag("   "))
}

func TestTagSignature(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want string
	}{
		{"sorted and lowercased", []string{"Invoice", "acme"}, "acme:invoice"},
		{"order independent", []string{"b", "a", "c"}, "a:b:c"},
		{"blank entries dropped", []string{"a", "  ", "b"}, "a:b"},
		{"empty set", nil, ""},
		{"single tag", []string{" Tax "}, "tax"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TagSignature(tt.tags))
		})
	}
}

func TestTagSignatureOrderInvariance(t *testing.T) {
	a := TagSignature([]string{"acme", "utility", "bill"})
	b := TagSignature([]string{"Bill", "ACME", "utility"})
	assert.Equal(t, a, b)
}
