package negotiate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotAcceptable is returned when an explicit header matches nothing the
// server can produce.
var ErrNotAcceptable = errors.New("not acceptable")

const identity = "identity"

// Supported lists what the server can produce, most preferred first. The
// first entry of each list is the default used when a header is absent.
type Supported struct {
	Formats   []string `yaml:"formats"`
	Encodings []string `yaml:"encodings"`
	Languages []string `yaml:"languages"`
}

// Format is the outcome of a negotiation. Empty Encoding means no
// compression; empty Language means the response is not localized.
type Format struct {
	MediaType string
	Encoding  string
	Language  string
	// Vary lists every request header the choice depended on.
	Vary []string
}

// Negotiator is safe for concurrent use; it holds no mutable state.
type Negotiator struct {
	supported Supported
}

func New(supported Supported) (*Negotiator, error) {
	if len(supported.Formats) == 0 {
		return nil, errors.New("at least one supported format is required")
	}
	return &Negotiator{supported: Supported{
		Formats:   lowerAll(supported.Formats),
		Encodings: lowerAll(supported.Encodings),
		Languages: supported.Languages,
	}}, nil
}

// Negotiate picks the response format. Media type and language fail with
// ErrNotAcceptable when their header is present but matches nothing;
// encoding never fails and falls back to no compression.
func (n *Negotiator) Negotiate(accept, acceptEncoding, acceptLanguage string) (Format, error) {
	f := Format{Vary: []string{"Accept"}}

	mediaType, err := pick("Accept", accept, n.supported.Formats, mediaRules)
	if err != nil {
		return Format{}, err
	}
	f.MediaType = mediaType

	if len(n.supported.Encodings) > 0 {
		f.Vary = append(f.Vary, "Accept-Encoding")
		f.Encoding = n.encoding(acceptEncoding)
	}

	if len(n.supported.Languages) > 0 {
		f.Vary = append(f.Vary, "Accept-Language")
		language, err := pick("Accept-Language", acceptLanguage, n.supported.Languages, languageRules)
		if err != nil {
			return Format{}, err
		}
		f.Language = language
	}

	return f, nil
}

func (n *Negotiator) encoding(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	prefs := ParseHeader(header)
	explicit := qualities(prefs)
	for _, p := range prefs {
		if p.Q == 0 {
			continue
		}
		if p.Value == identity {
			return ""
		}
		for _, r := range tokenRules {
			if !r.applies(p.Value) {
				continue
			}
			if chosen, ok := r.choose(p.Value, n.supported.Encodings, explicit); ok {
				if chosen == identity {
					return ""
				}
				return chosen
			}
		}
	}
	return ""
}

func pick(name, header string, supported []string, rules []rule) (string, error) {
	if strings.TrimSpace(header) == "" {
		return supported[0], nil
	}
	if chosen, ok := match(ParseHeader(header), supported, rules); ok {
		return chosen, nil
	}
	return "", fmt.Errorf("%w: %s %q matches none of %s",
		ErrNotAcceptable, name, header, strings.Join(supported, ", "))
}

func match(prefs []Preference, supported []string, rules []rule) (string, bool) {
	explicit := qualities(prefs)
	for _, p := range prefs {
		if p.Q == 0 {
			continue
		}
		for _, r := range rules {
			if !r.applies(p.Value) {
				continue
			}
			if chosen, ok := r.choose(p.Value, supported, explicit); ok {
				return chosen, true
			}
		}
	}
	return "", false
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
