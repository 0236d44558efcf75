package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/rendition/internal/ratelimit"
)

type RateLimiter interface {
	Take(ctx context.Context, policy, subject string, cost int) (ratelimit.Decision, error)
}

// withRateLimit charges one token of policy per request.
func (s *Server) withRateLimit(policy string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s.rateLimiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.admit(w, r, policy, 1) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// admit takes cost tokens from the client's bucket and writes the rejection
// when the request is not admitted. Limiter errors fail open.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, policy string, cost int) bool {
	if s.rateLimiter == nil {
		return true
	}

	subject := clientIP(r)
	decision, err := s.rateLimiter.Take(r.Context(), policy, subject, cost)
	switch {
	case errors.Is(err, ratelimit.ErrCostExceedsBurst):
		s.metrics.rateLimitRejected.WithLabelValues(policy).Inc()
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": "request exceeds the rate limit burst; split it into smaller batches",
		})
		return false
	case err != nil:
		s.logger.Warn("rate limiter check failed", "policy", policy, "subject", subject, "err", err)
		return true
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		return true
	}

	retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rateLimitRejected.WithLabelValues(policy).Inc()
	writeJSON(w, http.StatusTooManyRequests, map[string]string{
		"error": "rate limit exceeded",
	})
	return false
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
