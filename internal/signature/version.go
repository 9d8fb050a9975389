package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// versionOf derives the signature-set version identifier: the first 12 hex
// characters of SHA-256 over the concatenation of the files sorted by
// name (spec.md §6).
func versionOf(names []string, files map[string][]byte) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, name := range sorted {
		h.Write(files[name])
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
