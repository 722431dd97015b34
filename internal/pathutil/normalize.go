package pathutil

import "strings"

// Normalize turns an archive entry name into the form used for lookups:
// forward slashes, no leading "./" or "/".
// Examples:
//   - "assets/aa/catalog.json" -> "assets/aa/catalog.json"
//   - "/assets/aa/catalog.json" -> "assets/aa/catalog.json"
//   - "./assets/aa/catalog.json" -> "assets/aa/catalog.json"
//   - "assets\aa\catalog.json" -> "assets/aa/catalog.json"
func Normalize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	for {
		trimmed := strings.TrimPrefix(strings.TrimPrefix(name, "./"), "/")
		if trimmed == name {
			return name
		}
		name = trimmed
	}
}

// NormalizeForDisplay normalizes an entry name for list output.
// It ensures the path starts with "/" for consistency with archive listings.
// Examples:
//   - "files/3" -> "/files/3"
//   - "./files/3" -> "/files/3"
func NormalizeForDisplay(name string) string {
	return "/" + Normalize(name)
}
