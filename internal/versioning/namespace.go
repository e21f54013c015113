package versioning

import "strings"

// NamespaceToken derives a version namespace from a branch name: lower-cased,
// every run of non-alphanumeric characters replaced by a single '-'.
func NamespaceToken(branchName string) string {
	return sanitizeIdentifier(strings.ToLower(branchName))
}

// sanitizeIdentifier keeps [0-9A-Za-z-], collapses other runs into '-', and
// guards against purely numeric identifiers with leading zeros, which semver
// rejects in a prerelease.
func sanitizeIdentifier(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(raw))
	dash := false
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > 1 && out[0] == '0' && isDigits(out) {
		out = "n" + out
	}
	return out
}

func sanitizeMetadata(raw string) string {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = sanitizeIdentifier(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, ".")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
