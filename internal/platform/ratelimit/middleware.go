package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mitrakirim/api/internal/platform/httpx"
)

const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
	headerRetryAfter = "Retry-After"

	meterName = "github.com/mitrakirim/api/internal/platform/ratelimit"
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type middlewareConfig struct {
	clock  func() time.Time
	logger Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithClock overrides the time source, primarily for testing.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithLogger injects a logger for store failures.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// Middleware enforces fixed-window limits per client identity and endpoint
// pattern. Store failures fail open so a broken counter backend never takes
// the API down with it.
func Middleware(store Store, matcher *Matcher, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil || matcher == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	meter := otel.Meter(meterName)
	denials, err := meter.Int64Counter("http.ratelimit.denials",
		metric.WithDescription("Requests rejected by the rate limiter."))
	if err != nil && cfg.logger != nil {
		cfg.logger.Printf("ratelimit: metric registration failed: %v", err)
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			policy, pattern := matcher.Match(r.Method, r.URL.Path)
			if policy.MaxRequests <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			identity := ClientIdentity(r)
			key := identity + "|" + pattern
			now := cfg.clock().UTC()

			counter, err := store.Increment(r.Context(), key, policy.Window, now)
			if err != nil {
				if cfg.logger != nil {
					cfg.logger.Printf("ratelimit: increment failed for %s: %v", pattern, err)
				}
				next.ServeHTTP(w, r)
				return
			}

			remaining := policy.MaxRequests - counter.Count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set(headerLimit, strconv.FormatInt(policy.MaxRequests, 10))
			w.Header().Set(headerRemaining, strconv.FormatInt(remaining, 10))
			w.Header().Set(headerReset, strconv.FormatInt(counter.ResetTime.Unix(), 10))

			if counter.Count > policy.MaxRequests {
				retryAfter := int64(counter.ResetTime.Sub(now).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set(headerRetryAfter, strconv.FormatInt(retryAfter, 10))
				if denials != nil {
					denials.Add(r.Context(), 1, metric.WithAttributes(
						attribute.String("endpoint", pattern),
					))
				}
				httpx.WriteError(r.Context(), w, httpx.NewError(
					"rate_limit_exceeded",
					"too many requests, retry later",
					http.StatusTooManyRequests,
				).WithDetails(map[string]any{
					"retry_after_seconds": retryAfter,
				}))
				return
			}

			if !policy.SkipSuccessful && !policy.SkipFailed {
				next.ServeHTTP(w, r)
				return
			}

			recorder := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r)

			status := recorder.StatusCode()
			skip := (policy.SkipSuccessful && status < http.StatusBadRequest) ||
				(policy.SkipFailed && status >= http.StatusBadRequest)
			if skip {
				if err := store.Decrement(r.Context(), key); err != nil && cfg.logger != nil {
					cfg.logger.Printf("ratelimit: decrement failed for %s: %v", pattern, err)
				}
			}
		})
	}
}

// ClientIdentity resolves the caller identity for counter keys. It walks the
// proxy header chain before falling back to the socket peer address.
func ClientIdentity(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if cfIP := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(data)
}

func (r *statusRecorder) StatusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
