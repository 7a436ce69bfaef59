package cms

import (
	"strings"

	"github.com/google/uuid"
)

// deriveSlug computes the URL identifier for a slugged resource.
//
// A caller-supplied slug is authoritative and returned unchanged;
// uniqueness is enforced by the storage layer and surfaces as a
// conflict. An empty title yields a unique fallback so that two
// titleless creations never collide. Otherwise the title is trimmed,
// internal whitespace runs collapse to a single hyphen and the result
// is lowercased. There is no transliteration; any other character,
// non-ASCII included, passes through unchanged.
func deriveSlug(title, explicit string) string {
	if explicit != "" {
		return explicit
	}
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return "no-title-" + uuid.NewString()
	}
	return strings.ToLower(strings.Join(fields, "-"))
}
