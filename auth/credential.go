package auth

import (
	"net/http"
	"strings"
)

// Source says where a credential was found.
type Source int

const (
	SourceNone Source = iota
	SourceAuthorization
	SourceAPIKeyHeader
	SourceQuery
)

func (s Source) String() string {
	switch s {
	case SourceAuthorization:
		return "authorization"
	case SourceAPIKeyHeader:
		return "x-api-key"
	case SourceQuery:
		return "query"
	default:
		return "none"
	}
}

const (
	// APIKeyHeader is the dedicated API key header.
	APIKeyHeader = "X-API-Key"
	// APIKeyQueryParam carries the key in the URL. Keys in URLs end up in
	// access logs and browser history; it exists for manual testing.
	APIKeyQueryParam = "api_key"
)

// ExtractCredential returns the first credential found, checking the
// Authorization header, then X-API-Key, then (if allowQuery) the api_key
// query parameter. Blank values count as absent.
//
// A present Authorization header always wins, even when stripping the
// Bearer prefix leaves nothing: the result is then an empty credential with
// found set, which callers must treat as invalid rather than missing.
func ExtractCredential(r *http.Request, allowQuery bool) (credential string, source Source, found bool) {
	if v := r.Header.Get("Authorization"); strings.TrimSpace(v) != "" {
		return bearerValue(v), SourceAuthorization, true
	}
	if v := r.Header.Get(APIKeyHeader); strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), SourceAPIKeyHeader, true
	}
	if allowQuery && r.URL != nil {
		if v := r.URL.Query().Get(APIKeyQueryParam); strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), SourceQuery, true
		}
	}
	return "", SourceNone, false
}

func bearerValue(header string) string {
	v := strings.TrimSpace(header)
	if v == "Bearer" {
		return ""
	}
	v = strings.TrimPrefix(v, "Bearer ")
	return strings.TrimSpace(v)
}
