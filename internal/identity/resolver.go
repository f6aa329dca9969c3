package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandarb-io/gateway/internal/domain"
	"github.com/sandarb-io/gateway/internal/infra/auth"
	"go.uber.org/zap"
)

// ErrUnauthenticated — единый ответ на любой дефект credential.
// Детали (нет ключа / просрочен / подмена агента) остаются в логах,
// наружу причина не различается.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// AccountStore — контракт хранилища сервисных аккаунтов.
// Возвращает (nil, nil), если дайджест неизвестен.
type AccountStore interface {
	FindByDigest(ctx context.Context, digest string) (*domain.ServiceAccount, error)
}

type Resolver struct {
	store   AccountStore
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewResolver(store AccountStore, timeout time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:   store,
		timeout: timeout,
		logger:  logger.Named("identity"),
		now:     time.Now,
	}
}

// Resolve превращает сырой credential + заявленный agent id в CallerIdentity.
// presentedAgent — значение заголовка X-Sandarb-Agent-ID (или sourceAgent из конверта).
// Любой сбой хранилища = fail closed (ErrUnauthenticated), никогда не fail open.
func (r *Resolver) Resolve(ctx context.Context, credential, presentedAgent string) (*domain.CallerIdentity, error) {
	if credential == "" {
		return nil, ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	account, err := r.store.FindByDigest(ctx, auth.DigestAPIKey(credential))
	if err != nil {
		r.logger.Warn("account lookup failed, failing closed", zap.Error(err))
		return nil, fmt.Errorf("%w: store unavailable", ErrUnauthenticated)
	}
	if account == nil {
		return nil, ErrUnauthenticated
	}

	if account.Expired(r.now()) {
		r.logger.Info("expired credential rejected",
			zap.String("service_account_id", account.ID))
		return nil, ErrUnauthenticated
	}

	// Аккаунт с привязанным агентом не может представляться чужим agent id
	agentID := account.AgentID
	if agentID == "" {
		agentID = presentedAgent
	} else if presentedAgent != "" && presentedAgent != agentID {
		r.logger.Warn("agent id mismatch",
			zap.String("service_account_id", account.ID),
			zap.String("presented", presentedAgent))
		return nil, ErrUnauthenticated
	}

	return &domain.CallerIdentity{
		ServiceAccountID: account.ID,
		AgentID:          agentID,
		ExpiresAt:        account.ExpiresAt,
	}, nil
}
