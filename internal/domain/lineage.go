package domain

import "time"

// LineageRecord — неизменяемая запись комплаенс-леджера.
// Инвариант всей подсистемы: ровно одна запись на каждое решение,
// запись подтверждается ДО отправки ответа вызывающему.
type LineageRecord struct {
	ID           string       `json:"id"`       // UUID записи
	TraceID      string       `json:"trace_id"` // Сквозной ID запроса
	AgentID      string       `json:"agent_id"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceName string       `json:"resource_name"`
	VersionID    string       `json:"version_id,omitempty"` // Заполнен только при Allowed
	Decision     Decision     `json:"decision"`
	Reason       ReasonCode   `json:"reason,omitempty"` // Пусто при Allowed
	Timestamp    time.Time    `json:"timestamp"`
}

// LineageFilter — параметры выборки для отчетов и дашбордов.
// Выдача всегда newest-first, пагинация limit/offset.
type LineageFilter struct {
	AgentID      string
	ResourceName string
	TraceID      string
	Since        time.Time
	Limit        int
	Offset       int
}

// UsageRow — агрегат для отчета Reports (решения по агенту за окно)
type UsageRow struct {
	AgentID string `json:"agent_id"`
	Allowed int64  `json:"allowed"`
	Denied  int64  `json:"denied"`
}
