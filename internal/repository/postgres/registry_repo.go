package postgres

/*
Файл registry_repo.go — хранилище реестра агентов и linkage-грантов.
Data Plane читает отсюда approval-статусы и связи агент->ресурс;
Console API через этот же репозиторий принимает решения операторов.
*/

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sandarb-io/gateway/internal/domain"
)

type RegistryRepo struct {
	pool *pgxpool.Pool
}

func NewRegistryRepo(pool *pgxpool.Pool) *RegistryRepo {
	return &RegistryRepo{pool: pool}
}

// ApprovalStateOf возвращает Unknown для агента, которого в реестре нет
func (r *RegistryRepo) ApprovalStateOf(ctx context.Context, agentID string) (domain.ApprovalStatus, error) {
	query := `SELECT approval_status FROM agent_registrations WHERE agent_id = $1`

	var raw string
	err := r.pool.QueryRow(ctx, query, agentID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ApprovalUnknown, nil
		}
		return domain.ApprovalUnknown, fmt.Errorf("postgres: approval lookup failed: %w", err)
	}
	// Мусор в колонке схлопывается в Unknown, не в Approved
	return domain.ParseApprovalStatus(raw), nil
}

// IsLinked проверяет явный грант агент->ресурс. Нет строки = нет доступа.
func (r *RegistryRepo) IsLinked(ctx context.Context, agentID string, rtype domain.ResourceType, name string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM resource_links
			WHERE agent_id = $1 AND resource_type = $2 AND resource_name = $3
		)`

	var linked bool
	err := r.pool.QueryRow(ctx, query, agentID, rtype, name).Scan(&linked)
	if err != nil {
		return false, fmt.Errorf("postgres: linkage lookup failed: %w", err)
	}
	return linked, nil
}

// ListLinked — имена ресурсов типа rtype, слинкованных с агентом
func (r *RegistryRepo) ListLinked(ctx context.Context, agentID string, rtype domain.ResourceType) ([]string, error) {
	query := `
		SELECT resource_name FROM resource_links
		WHERE agent_id = $1 AND resource_type = $2
		ORDER BY resource_name`

	rows, err := r.pool.Query(ctx, query, agentID, rtype)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list links: %w", err)
	}
	defer rows.Close()

	// Инициализируем слайс, чтобы в JSON был [] вместо null
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres: scan link error: %w", err)
		}
		names = append(names, name)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return names, nil
}

// Register создает Draft-регистрацию при первом check-in.
// Идемпотентен: повторный check-in того же агента возвращает существующую
// запись без изменения статуса (ON CONFLICT DO UPDATE ради RETURNING).
func (r *RegistryRepo) Register(ctx context.Context, agentID, orgID string) (*domain.AgentRegistration, error) {
	query := `
		INSERT INTO agent_registrations (agent_id, org_id, approval_status)
		VALUES ($1, $2, 'DRAFT')
		ON CONFLICT (agent_id, org_id) DO UPDATE SET updated_at = agent_registrations.updated_at
		RETURNING agent_id, org_id, approval_status, registered_at, updated_at`

	reg := &domain.AgentRegistration{}
	var raw string
	err := r.pool.QueryRow(ctx, query, agentID, orgID).Scan(
		&reg.AgentID, &reg.OrgID, &raw, &reg.RegisteredAt, &reg.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to register agent: %w", err)
	}
	reg.Status = domain.ParseApprovalStatus(raw)
	return reg, nil
}

// AgentRegistrations — полный срез реестра для warmup-а L1 кэша при старте
func (r *RegistryRepo) AgentRegistrations(ctx context.Context) ([]domain.AgentRegistration, error) {
	query := `SELECT agent_id, org_id, approval_status, registered_at, updated_at FROM agent_registrations`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch registrations: %w", err)
	}
	defer rows.Close()

	var regs []domain.AgentRegistration
	for rows.Next() {
		var reg domain.AgentRegistration
		var raw string
		if err := rows.Scan(&reg.AgentID, &reg.OrgID, &raw, &reg.RegisteredAt, &reg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan registration error: %w", err)
		}
		reg.Status = domain.ParseApprovalStatus(raw)
		regs = append(regs, reg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return regs, nil
}

// --- Методы Console API ---

// GetAgent — детали регистрации для консоли. (nil, nil) = не найден.
func (r *RegistryRepo) GetAgent(ctx context.Context, agentID string) (*domain.AgentRegistration, error) {
	query := `
		SELECT agent_id, org_id, approval_status, registered_at, updated_at
		FROM agent_registrations WHERE agent_id = $1`

	reg := &domain.AgentRegistration{}
	var raw string
	err := r.pool.QueryRow(ctx, query, agentID).Scan(
		&reg.AgentID, &reg.OrgID, &raw, &reg.RegisteredAt, &reg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get agent: %w", err)
	}
	reg.Status = domain.ParseApprovalStatus(raw)
	return reg, nil
}

// ListAgents — очередь решений оператора, опционально по статусу
func (r *RegistryRepo) ListAgents(ctx context.Context, status domain.ApprovalStatus) ([]domain.AgentRegistration, error) {
	query := `SELECT agent_id, org_id, approval_status, registered_at, updated_at FROM agent_registrations`

	var args []interface{}
	if status != "" {
		query += " WHERE approval_status = $1"
		args = append(args, status)
	}
	query += " ORDER BY registered_at DESC LIMIT 200"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list agents: %w", err)
	}
	defer rows.Close()

	results := make([]domain.AgentRegistration, 0)
	for rows.Next() {
		var reg domain.AgentRegistration
		var raw string
		if err := rows.Scan(&reg.AgentID, &reg.OrgID, &raw, &reg.RegisteredAt, &reg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan agent error: %w", err)
		}
		reg.Status = domain.ParseApprovalStatus(raw)
		results = append(results, reg)
	}
	return results, rows.Err()
}

// UpdateApprovalStatus атомарно фиксирует решение оператора.
// Условие по текущему статусу защищает от Double Decision: терминальный
// REJECTED и повторный APPROVE не перетираются втихую.
func (r *RegistryRepo) UpdateApprovalStatus(ctx context.Context, agentID string, status domain.ApprovalStatus) error {
	query := `
		UPDATE agent_registrations
		SET approval_status = $1, updated_at = NOW()
		WHERE agent_id = $2 AND approval_status != 'REJECTED'`

	ct, err := r.pool.Exec(ctx, query, status, agentID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update approval status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("agent not found or already rejected (id: %s)", agentID)
	}
	return nil
}

// CreateLink создает явный грант агент->ресурс. Идемпотентен.
func (r *RegistryRepo) CreateLink(ctx context.Context, link domain.ResourceLink) error {
	query := `
		INSERT INTO resource_links (agent_id, resource_type, resource_name)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`

	_, err := r.pool.Exec(ctx, query, link.AgentID, link.ResourceType, link.ResourceName)
	if err != nil {
		return fmt.Errorf("postgres: failed to create link: %w", err)
	}
	return nil
}

// DeleteLink отзывает грант. Следующий запрос агента получит NOT_LINKED.
func (r *RegistryRepo) DeleteLink(ctx context.Context, link domain.ResourceLink) error {
	query := `
		DELETE FROM resource_links
		WHERE agent_id = $1 AND resource_type = $2 AND resource_name = $3`

	ct, err := r.pool.Exec(ctx, query, link.AgentID, link.ResourceType, link.ResourceName)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete link: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("link not found")
	}
	return nil
}
