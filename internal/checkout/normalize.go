package checkout

import "strings"

// Normalize converts a Git ref to its cache key:
// "refs/tags/config-2025.11.06" -> "config-2025.11.06",
// "refs/heads/release/2025" -> "release-2025".
func Normalize(ref string) string {
	key := strings.TrimSpace(ref)
	for _, prefix := range []string{"refs/tags/", "refs/heads/"} {
		if strings.HasPrefix(key, prefix) {
			key = strings.TrimPrefix(key, prefix)
			break
		}
	}
	return strings.ReplaceAll(key, "/", "-")
}

// validKey rejects keys that cannot name a checkout directory.
func validKey(key string) bool {
	switch key {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(key, "\\\x00")
}
