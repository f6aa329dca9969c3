package registry

import (
	"context"

	"github.com/sandarb-io/gateway/internal/domain"
)

// Repo описывает требования к хранилищу реестра (агенты + linkage).
// Все методы — чистые чтения, кроме Register (первый check-in агента).
type Repo interface {
	// ApprovalStateOf возвращает Unknown для агента, который не регистрировался
	ApprovalStateOf(ctx context.Context, agentID string) (domain.ApprovalStatus, error)

	// IsLinked проверяет явный грант агент->ресурс
	IsLinked(ctx context.Context, agentID string, rtype domain.ResourceType, name string) (bool, error)

	// ListLinked — имена ресурсов типа rtype, слинкованных с агентом
	ListLinked(ctx context.Context, agentID string, rtype domain.ResourceType) ([]string, error)

	// Register создает Draft-регистрацию при первом check-in.
	// Идемпотентен: повторный check-in возвращает существующую запись.
	Register(ctx context.Context, agentID, orgID string) (*domain.AgentRegistration, error)

	// AgentRegistrations — полный срез реестра для warmup-а кэша
	AgentRegistrations(ctx context.Context) ([]domain.AgentRegistration, error)
}
