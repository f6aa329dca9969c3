package engine

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sandarb-io/gateway/internal/domain"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const (
	traceIDKey ctxKey = "trace_id"
	callerKey  ctxKey = "caller_identity"
)

// Заголовки внешнего контракта
const (
	HeaderAPIKey  = "X-Sandarb-Api-Key"
	HeaderAgentID = "X-Sandarb-Agent-ID"
	HeaderTraceID = "X-Sandarb-Trace-ID"
)

// TracingMiddleware инициализирует Trace-ID для каждого запроса
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Пытаемся достать ID из заголовка (если пришел от агента/прокси)
		traceID := r.Header.Get(HeaderTraceID)

		// 2. Если его нет — генерируем новый
		if traceID == "" {
			traceID = uuid.New().String()
		}

		// 3. Кладем в контекст
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)

		// 4. Добавляем в ответ, чтобы клиент тоже знал ID своего запроса
		w.Header().Set(HeaderTraceID, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TraceIDFromContext помогает безопасно достать ID в любом месте кода
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return "00000000-0000-0000-0000-000000000000" // Fallback
}

func callerFromContext(ctx context.Context) *domain.CallerIdentity {
	if c, ok := ctx.Value(callerKey).(*domain.CallerIdentity); ok {
		return c
	}
	return nil
}

// credential достает API-ключ: выделенный заголовок или Authorization Bearer
func credential(r *http.Request) string {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return key
	}
	return r.Header.Get("Authorization")
}
