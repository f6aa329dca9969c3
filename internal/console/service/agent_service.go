package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sandarb-io/gateway/internal/domain"
	"github.com/sandarb-io/gateway/internal/infra"
	"go.uber.org/zap"
)

// ConsoleRegistry описывает требования консоли к хранилищу реестра
type ConsoleRegistry interface {
	GetAgent(ctx context.Context, agentID string) (*domain.AgentRegistration, error)
	ListAgents(ctx context.Context, status domain.ApprovalStatus) ([]domain.AgentRegistration, error)
	UpdateApprovalStatus(ctx context.Context, agentID string, status domain.ApprovalStatus) error
	CreateLink(ctx context.Context, link domain.ResourceLink) error
	DeleteLink(ctx context.Context, link domain.ResourceLink) error
}

// AgentService — операции оператора над реестром: решения по регистрациям
// и управление linkage-грантами. Каждое изменение статуса уходит сигналом
// в Redis, чтобы L1 кэши всех инстансов шлюза обновились без рестарта.
type AgentService struct {
	repo   ConsoleRegistry
	rdb    *redis.Client
	logger *zap.Logger
}

func NewAgentService(rdb *redis.Client, repo ConsoleRegistry, logger *zap.Logger) *AgentService {
	return &AgentService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("agent-service"),
	}
}

// updateApprovalState — унифицированный механизм смены статуса регистрации.
// Обновляет БД и транслирует сигнал в Redis.
func (s *AgentService) updateApprovalState(ctx context.Context, agentID string, status domain.ApprovalStatus, actionName string) error {
	// 1. Persistence Layer
	if err := s.repo.UpdateApprovalStatus(ctx, agentID, status); err != nil {
		s.logger.Error("failed to update approval status in DB",
			zap.String("agent_id", agentID),
			zap.String("action", actionName),
			zap.Error(err))
		return fmt.Errorf("%s database error: %w", actionName, err)
	}

	// 2. Real-time Signaling: шлюзы держат статусы в L1 кэше,
	// потерянный сигнал означал бы устаревший вердикт до рестарта
	payload := fmt.Sprintf("%s:%s", agentID, status)
	if err := s.rdb.Publish(ctx, infra.RedisChanApprovalSignal, payload).Err(); err != nil {
		s.logger.Error("critical: decision saved but signal not delivered",
			zap.String("agent_id", agentID),
			zap.Error(err))
		return fmt.Errorf("redis signal failure: %w", err)
	}

	s.logger.Info("approval state updated",
		zap.String("agent_id", agentID),
		zap.String("action", actionName),
		zap.String("new_status", string(status)))
	return nil
}

// SubmitForReview переводит Draft-регистрацию в очередь оператора
func (s *AgentService) SubmitForReview(ctx context.Context, agentID string) error {
	return s.updateApprovalState(ctx, agentID, domain.ApprovalPending, "submit-for-review")
}

// DecideApproval фиксирует решение оператора по регистрации.
// reviewerID пишется в лог для подотчетности (Accountability).
func (s *AgentService) DecideApproval(ctx context.Context, agentID string, approved bool, reviewerID string) error {
	status := domain.ApprovalRejected
	action := "approval-reject"
	if approved {
		status = domain.ApprovalApproved
		action = "approval-approve"
	}

	s.logger.Info("operator decision received",
		zap.String("agent_id", agentID),
		zap.String("reviewer_id", reviewerID),
		zap.Bool("approved", approved))

	return s.updateApprovalState(ctx, agentID, status, action)
}

func (s *AgentService) GetAgent(ctx context.Context, agentID string) (*domain.AgentRegistration, error) {
	reg, err := s.repo.GetAgent(ctx, agentID)
	if err != nil {
		s.logger.Error("failed to fetch agent details", zap.String("id", agentID), zap.Error(err))
		return nil, err
	}
	return reg, nil
}

// ListAgents возвращает очередь решений, опционально по статусу
func (s *AgentService) ListAgents(ctx context.Context, status domain.ApprovalStatus) ([]domain.AgentRegistration, error) {
	regs, err := s.repo.ListAgents(ctx, status)
	if err != nil {
		s.logger.Error("failed to list agents from repository", zap.Error(err))
		return nil, fmt.Errorf("service: could not fetch agents: %w", err)
	}

	// Фронтенд всегда получает [], а не null
	if regs == nil {
		return []domain.AgentRegistration{}, nil
	}
	return regs, nil
}

// CreateLink выдает грант агент->ресурс. Linkage шлюз читает напрямую из БД,
// поэтому Redis-сигнал здесь не нужен: грант виден немедленно.
func (s *AgentService) CreateLink(ctx context.Context, link domain.ResourceLink) error {
	if err := s.repo.CreateLink(ctx, link); err != nil {
		return err
	}
	s.logger.Info("link created",
		zap.String("agent_id", link.AgentID),
		zap.String("resource", string(link.ResourceType)+"/"+link.ResourceName))
	return nil
}

// DeleteLink отзывает грант. Следующий запрос агента получит NOT_LINKED.
func (s *AgentService) DeleteLink(ctx context.Context, link domain.ResourceLink) error {
	if err := s.repo.DeleteLink(ctx, link); err != nil {
		return err
	}
	s.logger.Info("link revoked",
		zap.String("agent_id", link.AgentID),
		zap.String("resource", string(link.ResourceType)+"/"+link.ResourceName))
	return nil
}
