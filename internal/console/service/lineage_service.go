package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sandarb-io/gateway/internal/domain"
)

// LineageProvider описывает контракт чтения комплаенс-леджера.
// Реализуется lineage.Ledger; модель данных — та же, что в Data Plane.
type LineageProvider interface {
	Query(ctx context.Context, f domain.LineageFilter) ([]domain.LineageRecord, error)
	Usage(ctx context.Context, since time.Time) ([]domain.UsageRow, error)
}

type LineageService struct {
	repo LineageProvider
}

func NewLineageService(repo LineageProvider) *LineageService {
	return &LineageService{repo: repo}
}

// FetchRecords запрашивает записи леджера с фильтрацией.
// Логика фильтрации (пустые строки или конкретные ID) инкапсулирована в репозитории.
func (s *LineageService) FetchRecords(ctx context.Context, f domain.LineageFilter) ([]domain.LineageRecord, error) {
	recs, err := s.repo.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("lineage_service: failed to fetch records: %w", err)
	}
	return recs, nil
}

// FetchUsage — агрегат решений по агентам за окно
func (s *LineageService) FetchUsage(ctx context.Context, since time.Time) ([]domain.UsageRow, error) {
	rows, err := s.repo.Usage(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("lineage_service: failed to fetch usage: %w", err)
	}
	return rows, nil
}
