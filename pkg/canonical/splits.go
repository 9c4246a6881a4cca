package canonical

import (
	"sort"
)

// SplitEntry is one participant line of a split as it is fingerprinted.
type SplitEntry struct {
	Recipient string
	Bps       int64
	Role      string
}

// SplitsHash fingerprints the terms of a locked split. Entries are sorted by
// recipient ascending, then bps descending, so any input order yields the
// same digest.
func SplitsHash(splitVersionID, contentID, lockedManifestSha256 string, entries []SplitEntry) string {
	sorted := append([]SplitEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Recipient != sorted[j].Recipient {
			return sorted[i].Recipient < sorted[j].Recipient
		}
		if sorted[i].Bps != sorted[j].Bps {
			return sorted[i].Bps > sorted[j].Bps
		}
		return sorted[i].Role < sorted[j].Role
	})

	participants := make([]any, len(sorted))
	for i, e := range sorted {
		bps := e.Bps
		if bps < 0 {
			bps = 0
		}
		participants[i] = map[string]any{
			"recipient": e.Recipient,
			"bps":       bps,
			"role":      e.Role,
		}
	}

	// Only strings, int64 and nested maps/slices: canonicalization cannot fail.
	text, _ := Canonicalize(map[string]any{
		"splitVersionId":       splitVersionID,
		"contentId":            contentID,
		"lockedManifestSha256": lockedManifestSha256,
		"participants":         participants,
	})
	return HashHex(text)
}
