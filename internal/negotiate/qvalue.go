// Package negotiate selects the media type, content encoding and language of
// a response from the request's Accept headers.
package negotiate

import (
	"sort"
	"strconv"
	"strings"
)

// Preference is one entry of a quality-value header.
type Preference struct {
	Value string
	Q     float64
}

// ParseHeader splits a header such as "text/html;q=0.8, */*;q=0.1" into
// preferences ordered by descending q. Entries with equal q keep header
// order. A missing or malformed q counts as 1.0; q is clamped to [0, 1].
func ParseHeader(header string) []Preference {
	parts := strings.Split(header, ",")
	prefs := make([]Preference, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ";")
		value := strings.ToLower(strings.TrimSpace(fields[0]))
		if value == "" {
			continue
		}
		q := 1.0
		for _, param := range fields[1:] {
			name, raw, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || strings.ToLower(strings.TrimSpace(name)) != "q" {
				continue
			}
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
				q = clamp(parsed)
			}
		}
		prefs = append(prefs, Preference{Value: value, Q: q})
	}
	sort.SliceStable(prefs, func(i, j int) bool {
		return prefs[i].Q > prefs[j].Q
	})
	return prefs
}

func clamp(q float64) float64 {
	switch {
	case q < 0:
		return 0
	case q > 1:
		return 1
	default:
		return q
	}
}

// qualities maps every value named in a header to its q. A value listed
// twice keeps the higher q.
func qualities(prefs []Preference) map[string]float64 {
	out := make(map[string]float64, len(prefs))
	for _, p := range prefs {
		if _, ok := out[p.Value]; !ok {
			out[p.Value] = p.Q
		}
	}
	return out
}
