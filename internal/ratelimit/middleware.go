package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/sandarb-io/gateway/internal/domain"
)

// KeyFunc достает ключ caller-а из запроса (обычно из identity в контексте)
type KeyFunc func(r *http.Request) string

// Middleware вешает тир-лимит на группу роутов.
// Отказ лимитера — не комплаенс-событие: в lineage он не пишется,
// учет идет через ops-журнал и метрики на стороне вызывающего кода.
func Middleware(l *Limiter, tier domain.Tier, key KeyFunc, onDeny func(caller string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := key(r)

			ok, retryAfter := l.Check(caller, tier)
			if !ok {
				if onDeny != nil {
					onDeny(caller)
				}

				seconds := int(math.Ceil(retryAfter.Seconds()))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"reason":            domain.ReasonRateLimited,
					"message":           "tier budget exhausted",
					"retryAfterSeconds": seconds,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
