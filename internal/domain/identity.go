package domain

import "time"

// ServiceAccount — учетная запись, под которой внешний вызов заходит в шлюз.
// Ключ хранится только в виде sha256-дайджеста, сырой credential в БД не попадает.
type ServiceAccount struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id,omitempty"` // Привязка к агенту; пустая = discovery-only аккаунт
	KeyDigest string     `json:"-"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired проверяет срок действия на момент t.
// Нулевой ExpiresAt = бессрочный аккаунт.
func (a *ServiceAccount) Expired(t time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(t)
}

// CallerIdentity — результат резолва credential.
// Создается только Identity Resolver-ом, дальше по пайплайну read-only.
type CallerIdentity struct {
	ServiceAccountID string     `json:"service_account_id"`
	AgentID          string     `json:"agent_id,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// Key — ключ для rate limiter и ops-журнала.
// Лимиты считаются по аккаунту, чтобы один tenant не душил другого.
func (c *CallerIdentity) Key() string {
	if c == nil {
		return "anonymous"
	}
	return c.ServiceAccountID
}
