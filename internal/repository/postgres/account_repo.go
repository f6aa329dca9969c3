package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sandarb-io/gateway/internal/domain"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// FindByDigest ищет сервисный аккаунт по sha256-дайджесту ключа.
// (nil, nil) = неизвестный credential; различие "нет ключа" / "ключ чужой"
// наружу не отдается.
func (r *AccountRepo) FindByDigest(ctx context.Context, digest string) (*domain.ServiceAccount, error) {
	query := `
		SELECT id, COALESCE(agent_id, ''), key_digest, expires_at, created_at
		FROM service_accounts WHERE key_digest = $1`

	a := &domain.ServiceAccount{}
	err := r.pool.QueryRow(ctx, query, digest).Scan(
		&a.ID, &a.AgentID, &a.KeyDigest, &a.ExpiresAt, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: account lookup failed: %w", err)
	}
	return a, nil
}
