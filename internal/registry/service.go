package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/sandarb-io/gateway/internal/domain"
	"go.uber.org/zap"
)

// Service — фасад Registry Lookup для ядра шлюза.
// Approval-статусы идут через L1 кэш; linkage — всегда прямое чтение БД
// с потолком по времени: устаревший положительный грант означал бы
// несанкционированную выдачу, этого кэшем не оправдать.
type Service struct {
	repo      Repo
	approvals *ApprovalManager
	timeout   time.Duration
	logger    *zap.Logger
}

func NewService(repo Repo, approvals *ApprovalManager, timeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		approvals: approvals,
		timeout:   timeout,
		logger:    logger.Named("registry"),
	}
}

// ApprovalStateOf возвращает статус регистрации агента.
// Любой сбой чтения = Unknown (fail closed), никогда не Approved.
func (s *Service) ApprovalStateOf(ctx context.Context, agentID string) domain.ApprovalStatus {
	if agentID == "" {
		return domain.ApprovalUnknown
	}

	if status, ok := s.approvals.StateOf(agentID); ok {
		return status
	}

	// Промах кэша: агент мог зарегистрироваться на другом инстансе
	// до того, как долетел сигнал. Добираем из БД.
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	status, err := s.repo.ApprovalStateOf(ctx, agentID)
	if err != nil {
		s.logger.Warn("approval lookup failed, failing closed",
			zap.String("agent_id", agentID), zap.Error(err))
		return domain.ApprovalUnknown
	}

	if status != domain.ApprovalUnknown {
		s.approvals.Set(agentID, status)
	}
	return status
}

// IsLinked проверяет явный грант. Сбой чтения = false (fail closed).
func (s *Service) IsLinked(ctx context.Context, agentID string, rtype domain.ResourceType, name string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	linked, err := s.repo.IsLinked(ctx, agentID, rtype, name)
	if err != nil {
		s.logger.Warn("linkage lookup failed, failing closed",
			zap.String("agent_id", agentID),
			zap.String("resource", name),
			zap.Error(err))
		return false
	}
	return linked
}

// ListLinked — имена ресурсов, доступных агенту (List-тир)
func (s *Service) ListLinked(ctx context.Context, agentID string, rtype domain.ResourceType) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	names, err := s.repo.ListLinked(ctx, agentID, rtype)
	if err != nil {
		return nil, fmt.Errorf("registry: list linked failed: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// RegisterAgent — первый check-in (Register-тир). Создает Draft-регистрацию,
// обновляет локальный кэш и оповещает остальные инстансы.
func (s *Service) RegisterAgent(ctx context.Context, agentID, orgID string) (*domain.AgentRegistration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reg, err := s.repo.Register(ctx, agentID, orgID)
	if err != nil {
		return nil, fmt.Errorf("registry: register failed: %w", err)
	}

	s.approvals.Set(reg.AgentID, reg.Status)
	if err := s.approvals.Publish(ctx, reg.AgentID, reg.Status); err != nil {
		// Сигнал не критичен: другие инстансы доберут статус из БД на промахе
		s.logger.Warn("registration signal delivery failed",
			zap.String("agent_id", reg.AgentID), zap.Error(err))
	}
	return reg, nil
}
