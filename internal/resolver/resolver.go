package resolver

import (
	"context"
	"fmt"

	"github.com/sandarb-io/gateway/internal/domain"
	"go.uber.org/zap"
)

// VersionStore — контракт version store (внешнего коллаборатора).
// Возвращает ТОЛЬКО текущую одобренную версию; (nil, nil) — ресурса нет
// или у него еще нет одобренной версии (для ядра это одно и то же:
// неодобренный контент не должен утекать даже фактом существования).
type VersionStore interface {
	ResolveApproved(ctx context.Context, rtype domain.ResourceType, name string) (*domain.ResolvedResource, error)
}

// Resolver — Resource Resolver ядра. Хранилище обычно приходит сюда уже
// обернутым в ReliabilityWrapper (ретраи, CB, таймауты).
type Resolver struct {
	store  VersionStore
	logger *zap.Logger
}

func NewResolver(store VersionStore, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger.Named("resolver")}
}

// Resolve возвращает текущую одобренную версию ресурса.
// (nil, nil) = NotFound; ошибка = хранилище недоступно (Unavailable,
// ядро обязано превратить это в fail-closed отказ).
func (r *Resolver) Resolve(ctx context.Context, rtype domain.ResourceType, name string) (*domain.ResolvedResource, error) {
	res, err := r.store.ResolveApproved(ctx, rtype, name)
	if err != nil {
		r.logger.Warn("version store read failed",
			zap.String("type", string(rtype)),
			zap.String("name", name),
			zap.Error(err))
		return nil, fmt.Errorf("resolver: version store unavailable: %w", err)
	}
	return res, nil
}
