package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// OriginPolicy decides which browser origins may open WebSocket connections
// and make cross-origin API calls. The allowlist can be replaced at runtime.
type OriginPolicy struct {
	mu       sync.RWMutex
	allowed  map[string]struct{}
	allowAll bool
	logger   *slog.Logger
}

// NewOriginPolicy builds a policy from origins. "*" allows every origin.
func NewOriginPolicy(origins []string, logger *slog.Logger) *OriginPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	p := &OriginPolicy{logger: logger}
	p.Update(origins)
	return p
}

// Update replaces the allowlist.
func (p *OriginPolicy) Update(origins []string) {
	normalized, allowAll := p.normalizeOrigins(origins)

	allowed := make(map[string]struct{}, len(normalized))
	for _, o := range normalized {
		allowed[o] = struct{}{}
	}

	p.mu.Lock()
	p.allowed = allowed
	p.allowAll = allowAll
	p.mu.Unlock()
}

// Allowed reports whether origin is on the allowlist.
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.allowAll {
		return true
	}
	_, exists := p.allowed[normalized]
	return exists
}

// CheckOrigin is a websocket.Upgrader CheckOrigin function.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if p.Allowed(origin) {
		return true
	}
	p.logger.Warn("server: blocked websocket connection from disallowed origin", "origin", origin)
	return false
}

func (p *OriginPolicy) normalizeOrigins(origins []string) ([]string, bool) {
	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}

		o, ok := normalizeOrigin(trimmed)
		if !ok {
			p.logger.Warn("server: ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		normalized = append(normalized, o)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
