package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"apicore/internal/apierror"
)

// DefaultKeyHeader carries the client API key.
const DefaultKeyHeader = "X-API-Key"

// APIKey maps a client key to the tier it is billed against.
type APIKey struct {
	Key  string `yaml:"key" json:"key"`
	Name string `yaml:"name" json:"name"`
	Tier string `yaml:"tier" json:"tier"`
}

type subject struct {
	name string
	tier string
}

// KeyResolver derives the rate limit key of a request: known API keys are
// limited per key name in their tier, everything else per client IP in the
// anonymous tier.
type KeyResolver struct {
	header        string
	anonymousTier string
	subjects      map[string]subject
}

func NewKeyResolver(header, anonymousTier string, keys []APIKey) *KeyResolver {
	if header == "" {
		header = DefaultKeyHeader
	}
	subjects := make(map[string]subject, len(keys))
	for _, k := range keys {
		subjects[hashKey(k.Key)] = subject{name: k.Name, tier: k.Tier}
	}
	return &KeyResolver{
		header:        header,
		anonymousTier: anonymousTier,
		subjects:      subjects,
	}
}

// Resolve returns the key for the request and endpoint class. A presented
// but unknown API key is an AuthenticationRequired error.
func (kr *KeyResolver) Resolve(r *http.Request, class string) (Key, error) {
	if raw := strings.TrimSpace(r.Header.Get(kr.header)); raw != "" {
		s, ok := kr.subjects[hashKey(raw)]
		if !ok {
			return Key{}, apierror.New(apierror.KindAuthenticationRequired, "unknown API key")
		}
		return Key{Tier: s.tier, Class: class, Subject: "key:" + s.name}, nil
	}
	return Key{Tier: kr.anonymousTier, Class: class, Subject: "ip:" + clientIP(r)}, nil
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// clientIP extracts the client IP from the request, checking proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
