package ratelimit

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// Response headers attached to every admitted request.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// ErrorCode is the machine-readable code in a 429 response body.
const ErrorCode = "rate_limit_exceeded"

// DeniedResponse is the JSON body written when a request is rejected.
type DeniedResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// Middleware enforces the limit before calling next. Exempt paths and
// WebSocket upgrades on an upgrade path pass through untouched.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.isExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		client := ClientIP(r)
		if !l.Allow(client) {
			l.deny(w, client)
			return
		}
		l.Record(client)

		// Headers must be set before next writes the status line.
		h := w.Header()
		h.Set(HeaderLimit, strconv.Itoa(l.Limit()))
		h.Set(HeaderRemaining, strconv.Itoa(l.Remaining(client)))
		h.Set(HeaderReset, strconv.FormatInt(l.now().Add(l.window).Unix(), 10))

		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) isExempt(r *http.Request) bool {
	if _, ok := l.exempt[r.URL.Path]; ok {
		return true
	}
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	_, ok := l.upgrades[r.URL.Path]
	return ok
}

func (l *Limiter) deny(w http.ResponseWriter, client string) {
	limit := l.Limit()
	retryAfter := int(l.window.Seconds())

	l.logger.Warn("ratelimit: request rejected", "client", client, "limit", limit)
	if l.onDeny != nil {
		l.onDeny(client)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set(HeaderLimit, strconv.Itoa(limit))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(DeniedResponse{
		Error:      ErrorCode,
		Message:    fmt.Sprintf("Maximum %d requests per minute allowed", limit),
		RetryAfter: retryAfter,
	})
}

// ClientIP derives the client identity from, in order, the first entry of
// X-Forwarded-For, X-Real-IP, and the host part of the peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
