package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sandarb-io/gateway/internal/domain"
)

type VersionRepo struct {
	pool *pgxpool.Pool
}

func NewVersionRepo(pool *pgxpool.Pool) *VersionRepo {
	return &VersionRepo{pool: pool}
}

// ResolveApproved возвращает текущую одобренную версию ресурса.
// Черновики и отозванные версии отсюда не выходят никогда.
// (nil, nil) = ресурса нет ИЛИ одобренной версии нет — наружу неразличимо.
func (r *VersionRepo) ResolveApproved(ctx context.Context, rtype domain.ResourceType, name string) (*domain.ResolvedResource, error) {
	query := `
		SELECT v.version_id, v.content, v.classification, COALESCE(v.regulatory_hooks, '{}')
		FROM resource_versions v
		JOIN resources r ON r.id = v.resource_id
		WHERE r.resource_type = $1 AND r.name = $2
		  AND v.approved = TRUE AND v.is_current = TRUE`

	var (
		versionID      string
		rawContent     []byte
		classification string
		hooks          []string
	)
	err := r.pool.QueryRow(ctx, query, rtype, name).Scan(&versionID, &rawContent, &classification, &hooks)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: version lookup failed: %w", err)
	}

	// JSONB -> protobuf-дерево: единый путь конвертации для всего шлюза
	content, err := domain.ContentFromJSON(rawContent)
	if err != nil {
		return nil, fmt.Errorf("postgres: corrupt content for %s/%s: %w", rtype, name, err)
	}

	return &domain.ResolvedResource{
		Type:            rtype,
		Name:            name,
		VersionID:       versionID,
		Content:         content,
		Classification:  domain.Classification(classification),
		RegulatoryHooks: hooks,
	}, nil
}
