package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
)

// TokenRegex matches a catalog version token: 8 lowercase hex digits.
var TokenRegex = regexp.MustCompile(`^[0-9a-f]{8}$`)

// ComputeToken derives the catalog version token from the serialized catalog
// files: the first 8 hex digits of a SHA-256 over the sorted file names and
// contents. Re-submitting an identical catalog therefore produces the same
// token, which lets publication skip a no-op cutover.
func ComputeToken(files []SourceFile) string {
	sorted := make([]SourceFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := sha256.New()
	for _, f := range sorted {
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write(f.Data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:8]
}
