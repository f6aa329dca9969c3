package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sandarb-io/gateway/internal/domain"
	"github.com/sandarb-io/gateway/internal/infra"
	"go.uber.org/zap"
)

// ApprovalManager — L1 (RAM) кэш approval-статусов агентов.
// Hot Path шлюза читает только память; консоль после каждого решения
// оператора публикует сигнал в Redis, и кэш обновляется в реальном времени.
// Кэширование — забота реестра: ядро про этот слой не знает.
type ApprovalManager struct {
	mu     sync.RWMutex
	states map[string]domain.ApprovalStatus

	repo   Repo
	rdb    *redis.Client
	logger *zap.Logger
}

func NewApprovalManager(rdb *redis.Client, repo Repo, logger *zap.Logger) *ApprovalManager {
	return &ApprovalManager{
		states: make(map[string]domain.ApprovalStatus),
		repo:   repo,
		rdb:    rdb,
		logger: logger.With(zap.String("mod", "approvals")),
	}
}

// Init выполняет холодную загрузку статусов из БД при старте шлюза
// и прогревает Redis-зеркало approved-агентов.
func (m *ApprovalManager) Init(ctx context.Context) error {
	regs, err := m.repo.AgentRegistrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch registrations from DB: %w", err)
	}

	var approved []string
	fresh := make(map[string]domain.ApprovalStatus, len(regs))
	for _, reg := range regs {
		fresh[reg.AgentID] = reg.Status
		if reg.Status == domain.ApprovalApproved {
			approved = append(approved, reg.AgentID)
		}
	}

	m.mu.Lock()
	m.states = fresh
	m.mu.Unlock()

	return WarmupSet(ctx, m.rdb, m.logger, approved,
		infra.RedisKeyApprovedAgents, infra.RedisKeyLockWarmupApproved)
}

// StartListener подписывается на решения консоли в реальном времени
func (m *ApprovalManager) StartListener(ctx context.Context) {
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanApprovalSignal,
		func() error { return m.Init(ctx) }, // Ресинк при переподключении
		func(agentID, rawStatus string) {
			m.Set(agentID, domain.ParseApprovalStatus(rawStatus))
		},
	)
}

// StateOf — максимально быстрая проверка для Hot Path
func (m *ApprovalManager) StateOf(agentID string) (domain.ApprovalStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[agentID]
	return s, ok
}

// Set обновляет локальный кэш (сигнал из Redis или локальная регистрация)
func (m *ApprovalManager) Set(agentID string, status domain.ApprovalStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[agentID] = status
}

// Publish транслирует изменение статуса другим инстансам шлюза
func (m *ApprovalManager) Publish(ctx context.Context, agentID string, status domain.ApprovalStatus) error {
	payload := fmt.Sprintf("%s:%s", agentID, status)
	return m.rdb.Publish(ctx, infra.RedisChanApprovalSignal, payload).Err()
}
