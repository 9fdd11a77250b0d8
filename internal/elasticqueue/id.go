package elasticqueue

import (
	"hash/fnv"
	"regexp"
)

// idAlphabet matches the allowed service-name alphabet: letters, digits,
// dash, underscore, dot. Modeled on the validDomain/domainRegexp
// validate-and-normalize pattern used elsewhere in this codebase,
// generalized from "is this a valid hostname" to "is this a valid
// queue id."
var idAlphabet = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

var invalidRun = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

var edgeUnderscores = regexp.MustCompile(`^_+|_+$`)

// sanitizeID derives a queue id from a service route name. Routes that
// already fit the allowed alphabet pass through unchanged; anything else
// is replaced by a sanitized surrogate — invalid runs collapse to a
// single underscore, and a route that sanitizes to nothing (empty, or
// entirely disallowed characters) falls back to a stable hash so the
// mapping from route to id is still deterministic.
func sanitizeID(route string) string {
	if route != "" && idAlphabet.MatchString(route) {
		return route
	}
	sanitized := invalidRun.ReplaceAllString(route, "_")
	sanitized = edgeUnderscores.ReplaceAllString(sanitized, "")
	if sanitized == "" {
		h := fnv.New64a()
		h.Write([]byte(route)) //nolint:errcheck // hash.Hash.Write never errors
		return "route-" + hexUint64(h.Sum64())
	}
	return sanitized
}

func hexUint64(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}
