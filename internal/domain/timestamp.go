package domain

import (
	"strings"
	"time"
)

// NormalizeTimestamp rewrites PostgreSQL-style timestamps
// ("2024-05-01 10:20:30.123456+07") into RFC 3339. Values that are already
// RFC 3339, or that cannot be recognized, are returned unchanged.
func NormalizeTimestamp(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < len("2006-01-02 15:04:05") || s[10] != ' ' {
		return s
	}

	candidate := s[:10] + "T" + s[11:]
	rest := candidate[19:]
	// Strip fractional seconds to find the zone suffix.
	zone := strings.TrimLeft(rest, ".0123456789")
	switch {
	case zone == "":
		candidate += "Z"
	case (zone[0] == '+' || zone[0] == '-') && len(zone) == 3:
		candidate += ":00"
	case (zone[0] == '+' || zone[0] == '-') && len(zone) == 5 && !strings.Contains(zone, ":"):
		candidate = candidate[:len(candidate)-2] + ":" + candidate[len(candidate)-2:]
	}

	if _, err := time.Parse(time.RFC3339Nano, candidate); err != nil {
		return s
	}
	return candidate
}

// ParseTimestamp parses either RFC 3339 or PostgreSQL-style timestamps.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, NormalizeTimestamp(s))
}

// Now formats the current time the way locally created records carry it.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
