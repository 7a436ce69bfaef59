package cms

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSlug(t *testing.T) {
	assert.Equal(t, "hello-world", deriveSlug("Hello World", ""))
	assert.Equal(t, "hello-world", deriveSlug("  Hello   World  ", ""))
	assert.Equal(t, "hello-world", deriveSlug("Hello\t \nWorld", ""))
	assert.Equal(t, "hello", deriveSlug("HELLO", ""))

	// no transliteration, non-ASCII passes through
	assert.Equal(t, "über-uns", deriveSlug("Über Uns", ""))
	assert.Equal(t, "maßarbeit-&-co.", deriveSlug("Maßarbeit & Co.", ""))
}

func TestDeriveSlugExplicit(t *testing.T) {
	// a caller-supplied slug is authoritative and returned unchanged
	assert.Equal(t, "My-Explicit-Slug", deriveSlug("Hello World", "My-Explicit-Slug"))
	assert.Equal(t, "x", deriveSlug("", "x"))
}

func TestDeriveSlugFallback(t *testing.T) {
	first := deriveSlug("", "")
	second := deriveSlug("   ", "")
	assert.True(t, strings.HasPrefix(first, "no-title-"))
	assert.True(t, strings.HasPrefix(second, "no-title-"))
	assert.NotEqual(t, first, second)
}
