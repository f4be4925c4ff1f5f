package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kidspc/kidspc-server/internal/config"
	"github.com/kidspc/kidspc-server/internal/service"
)

// AccountRateLimitMiddleware applies the per-account limit stored on the
// account row; accounts without an override get the default. Runs after
// auth, so requests without an account in context pass through untouched.
type AccountRateLimitMiddleware struct {
	limiter *service.RateLimiter
	window  time.Duration
}

func NewAccountRateLimitMiddleware(limiter *service.RateLimiter) *AccountRateLimitMiddleware {
	return &AccountRateLimitMiddleware{
		limiter: limiter,
		window:  time.Minute,
	}
}

func (m *AccountRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := GetAccount(r.Context())
		if account == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := account.RateLimitPerMin
		if limit <= 0 {
			limit = config.DefaultRateLimitPerMin
		}

		allowed, resetAt := m.limiter.CheckLimit(r.Context(), "account:"+account.ID, limit, m.window)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			log.Warn().Str("accountId", account.ID).Msg("account rate limit exceeded")
			secondsLeft := int(time.Until(resetAt).Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secondsLeft))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Too many requests. Please try again later.",
				"code":  "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
