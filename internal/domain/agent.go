package domain

import "time"

// ApprovalStatus описывает жизненный цикл регистрации агента в реестре
type ApprovalStatus string

const (
	// ApprovalUnknown — агент ни разу не регистрировался (или реестр недоступен).
	// Fail-closed: любой сбой чтения реестра трактуется как Unknown, никогда как Approved.
	ApprovalUnknown ApprovalStatus = "UNKNOWN"

	ApprovalDraft    ApprovalStatus = "DRAFT"            // Первый check-in, ждет отправки на ревью
	ApprovalPending  ApprovalStatus = "PENDING_APPROVAL" // Отправлен на ревью оператору
	ApprovalApproved ApprovalStatus = "APPROVED"         // Полный доступ (с учетом linkage)
	ApprovalRejected ApprovalStatus = "REJECTED"         // Отклонен; запись сохраняется для аудита, не удаляется
)

// IsTerminalDeny сообщает, что статус гарантированно не даст доступ
func (s ApprovalStatus) IsTerminalDeny() bool {
	return s == ApprovalRejected
}

// ParseApprovalStatus валидирует строку из БД или Redis-сигнала.
// Некорректный статус схлопывается в Unknown (Zero Trust).
func ParseApprovalStatus(raw string) ApprovalStatus {
	switch ApprovalStatus(raw) {
	case ApprovalDraft, ApprovalPending, ApprovalApproved, ApprovalRejected:
		return ApprovalStatus(raw)
	default:
		return ApprovalUnknown
	}
}

// AgentRegistration — запись реестра об агенте.
// Инвариант: AgentID уникален в пределах OrgID; записи никогда не удаляются.
type AgentRegistration struct {
	AgentID      string         `json:"agent_id"`
	OrgID        string         `json:"org_id"`
	Status       ApprovalStatus `json:"approval_status"`
	RegisteredAt time.Time      `json:"registered_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
