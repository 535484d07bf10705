// Package middleware holds endpoint.Processors shared by the gateway routes.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mnehpets/mcpgate/endpoint"
)

// SecurityHeaders sets response headers suited to a JSON and event-stream
// API. The zero value sets nothing; use NewSecurityHeaders for defaults.
//
// Defaults:
//   - Referrer-Policy: no-referrer
//   - X-Frame-Options: DENY
//   - X-Content-Type-Options: nosniff
//   - Content-Security-Policy: default-src 'none'; frame-ancestors 'none'
//   - Cross-Origin-Resource-Policy: same-origin
//
// HSTS is off unless WithHSTS is given; TLS terminates in front of the
// gateway, so only the operator knows whether it applies.
type SecurityHeaders struct {
	HSTS                      *HSTSConfig
	ReferrerPolicy            string
	FrameOptions              string
	ContentTypeOptions        bool
	ContentSecurityPolicy     string
	CrossOriginResourcePolicy string
}

// HSTSConfig configures Strict-Transport-Security.
type HSTSConfig struct {
	// MaxAge in seconds. Zero or less disables the header.
	MaxAge            int
	IncludeSubDomains bool
	Preload           bool
}

// SecurityHeadersOption configures SecurityHeaders.
type SecurityHeadersOption func(*SecurityHeaders)

// NewSecurityHeaders returns the API defaults with opts applied.
func NewSecurityHeaders(opts ...SecurityHeadersOption) *SecurityHeaders {
	p := &SecurityHeaders{
		ReferrerPolicy:            "no-referrer",
		FrameOptions:              "DENY",
		ContentTypeOptions:        true,
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none'",
		CrossOriginResourcePolicy: "same-origin",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithHSTS enables Strict-Transport-Security.
func WithHSTS(maxAge int, includeSubDomains, preload bool) SecurityHeadersOption {
	return func(p *SecurityHeaders) {
		p.HSTS = &HSTSConfig{MaxAge: maxAge, IncludeSubDomains: includeSubDomains, Preload: preload}
	}
}

// WithCrossOriginResourcePolicy overrides Cross-Origin-Resource-Policy.
// An empty policy removes the header, which browser-based MCP clients on
// another origin need.
func WithCrossOriginResourcePolicy(policy string) SecurityHeadersOption {
	return func(p *SecurityHeaders) { p.CrossOriginResourcePolicy = policy }
}

// Process implements endpoint.Processor.
func (p *SecurityHeaders) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if v := formatHSTS(p.HSTS); v != "" {
		h.Set("Strict-Transport-Security", v)
	}
	if p.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", p.ReferrerPolicy)
	}
	if p.FrameOptions != "" {
		h.Set("X-Frame-Options", p.FrameOptions)
	}
	if p.ContentTypeOptions {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	if p.ContentSecurityPolicy != "" {
		h.Set("Content-Security-Policy", p.ContentSecurityPolicy)
	}
	if p.CrossOriginResourcePolicy != "" {
		h.Set("Cross-Origin-Resource-Policy", p.CrossOriginResourcePolicy)
	}
	return next(w, r)
}

func formatHSTS(config *HSTSConfig) string {
	if config == nil || config.MaxAge <= 0 {
		return ""
	}
	parts := []string{"max-age=" + strconv.Itoa(config.MaxAge)}
	if config.IncludeSubDomains {
		parts = append(parts, "includeSubDomains")
	}
	if config.Preload {
		parts = append(parts, "preload")
	}
	return strings.Join(parts, "; ")
}

var _ endpoint.Processor = (*SecurityHeaders)(nil)
