package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"complyd/internal/ratelimit/models"
	"complyd/pkg/platform/httputil"
	"complyd/pkg/requestcontext"
)

// Limiter is a sliding window store.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (models.Result, error)
}

// Middleware throttles requests per client IP.
type Middleware struct {
	limiter Limiter
	logger  *slog.Logger
	limit   int
	window  time.Duration
}

// New returns a limiter allowing limit requests per window per client. A
// limit below 1 disables it.
func New(limiter Limiter, logger *slog.Logger, limit int, window time.Duration) *Middleware {
	return &Middleware{limiter: limiter, logger: logger, limit: limit, window: window}
}

// PerClient wraps next with the limit. Store failures let the request through.
func (m *Middleware) PerClient(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil || m.limit < 1 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			result, err := m.limiter.Allow(ctx, scope+":"+ip, m.limit, m.window)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed",
					"scope", scope,
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			if !result.Allowed {
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"scope", scope,
					"client_ip", ip,
					"retry_after", result.RetryAfter,
				)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, models.ExceededResponse{
					Error:      "rate_limit_exceeded",
					Message:    "too many requests from this client, try again later",
					RetryAfter: result.RetryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
