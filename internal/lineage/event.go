package lineage

import "time"

// OpsEvent — операционная телеметрия, НЕ комплаенс-запись.
// Сюда попадают rate-limit отказы и тайминги обработки: решение не пускать
// абьюз-трафик в регулируемый леджер принято сознательно (retention/privacy).
type OpsEvent struct {
	ID         string    `json:"id"`
	TraceID    string    `json:"trace_id"`
	CallerID   string    `json:"caller_id"`
	Tier       string    `json:"tier"`
	Kind       string    `json:"kind"` // "rate_limited", "request"
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}
