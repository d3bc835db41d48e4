package middleware

import (
	"fmt"
	"net/http"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// RateLimit returns a per-client-IP limiter. rate uses the limiter format,
// e.g. "120-M" for 120 requests per minute. Rejected requests get a 429 in
// the standard error envelope.
func RateLimit(rate string, trustForwardHeader bool) (func(http.Handler) http.Handler, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate limit %q: %w", rate, err)
	}

	instance := limiter.New(memory.NewStore(), parsed, limiter.WithTrustForwardHeader(trustForwardHeader))
	mw := stdlib.NewMiddleware(instance, stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorEnvelope(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
	}))
	return mw.Handler, nil
}
