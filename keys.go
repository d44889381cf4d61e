package arkive

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// IsValidKey validates a storage object key. Keys must be relative,
// slash-separated UTF-8 paths with no traversal segments, empty segments,
// control characters, or whitespace.
func IsValidKey(k string) bool {
	if k == "" || k == "/" || k == "." {
		return false
	}
	if k[0] == '/' || strings.HasSuffix(k, "/") {
		return false
	}
	if strings.Contains(k, "..") || strings.Contains(k, "//") {
		return false
	}
	if strings.ContainsAny(k, `\?#~`) {
		return false
	}
	if !utf8.ValidString(k) {
		return false
	}
	if strings.HasPrefix(k, "./") || strings.Contains(k, "/./") || strings.HasSuffix(k, "/.") {
		return false
	}
	for _, r := range k {
		if r < 0x20 || r == 0x7f || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
