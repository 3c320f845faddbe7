package observability

import (
	"strings"
	"unicode"
)

const defaultFieldLimit = 256

// Field values logged from request data (paths, header-derived IDs) must not
// carry control characters, and ULID-sized identifiers never legitimately
// exceed these limits.

func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultFieldLimit
	}

	var b strings.Builder
	b.Grow(len(value))
	count := 0
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if count >= limit {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// SanitizeRoute cleans a chi route pattern for the request log.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 128)
}

// SanitizeMethod cleans an HTTP method name.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID caps user identifiers logged alongside requests. ULIDs are
// 26 characters; anything near the cap is already suspect.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, 64)
}
