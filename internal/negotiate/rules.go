package negotiate

import "strings"

// rule is one step of the matching chain: applies decides whether the rule
// handles a client value, choose picks a supported value for it.
type rule struct {
	name    string
	applies func(value string) bool
	choose  func(value string, supported []string, explicit map[string]float64) (string, bool)
}

var (
	mediaRules    = []rule{exactRule, typeWildcardRule, anyWildcardRule}
	tokenRules    = []rule{exactRule, anyWildcardRule}
	languageRules = []rule{exactRule, languageRangeRule, anyWildcardRule}
)

var exactRule = rule{
	name: "exact",
	applies: func(value string) bool {
		return !strings.Contains(value, "*")
	},
	choose: func(value string, supported []string, explicit map[string]float64) (string, bool) {
		for _, s := range supported {
			if strings.EqualFold(s, value) {
				return s, true
			}
		}
		return "", false
	},
}

// typeWildcardRule handles "type/*".
var typeWildcardRule = rule{
	name: "type-wildcard",
	applies: func(value string) bool {
		return strings.HasSuffix(value, "/*") && value != "*/*"
	},
	choose: func(value string, supported []string, explicit map[string]float64) (string, bool) {
		prefix := strings.TrimSuffix(value, "*")
		for _, s := range supported {
			if strings.HasPrefix(strings.ToLower(s), prefix) && !isRefused(s, explicit) {
				return s, true
			}
		}
		return "", false
	},
}

// anyWildcardRule handles "*/*" and "*".
var anyWildcardRule = rule{
	name: "any",
	applies: func(value string) bool {
		return value == "*/*" || value == "*"
	},
	choose: func(value string, supported []string, explicit map[string]float64) (string, bool) {
		for _, s := range supported {
			if !isRefused(s, explicit) {
				return s, true
			}
		}
		return "", false
	},
}

// languageRangeRule lets "en" match "en-US" and "en-GB" match "en".
var languageRangeRule = rule{
	name: "language-range",
	applies: func(value string) bool {
		return !strings.Contains(value, "*")
	},
	choose: func(value string, supported []string, explicit map[string]float64) (string, bool) {
		for _, s := range supported {
			lower := strings.ToLower(s)
			if isRefused(s, explicit) {
				continue
			}
			if strings.HasPrefix(lower, value+"-") || strings.HasPrefix(value, lower+"-") {
				return s, true
			}
		}
		return "", false
	},
}

// isRefused reports whether the most specific header entry covering value
// has q=0. "application/json" is covered by itself, then "application/*",
// then "*/*"; "en-us" by itself, then "en", then "*".
func isRefused(value string, explicit map[string]float64) bool {
	for _, r := range ranges(strings.ToLower(value)) {
		if q, ok := explicit[r]; ok {
			return q == 0
		}
	}
	return false
}

func ranges(value string) []string {
	out := []string{value}
	if typ, _, ok := strings.Cut(value, "/"); ok {
		return append(out, typ+"/*", "*/*", "*")
	}
	for {
		i := strings.LastIndex(value, "-")
		if i <= 0 {
			break
		}
		value = value[:i]
		out = append(out, value)
	}
	return append(out, "*")
}
