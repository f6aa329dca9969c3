package lineage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sandarb-io/gateway/internal/domain"
	"go.uber.org/zap"
)

// Store — контракт хранилища комплаенс-леджера. Только append и чтение,
// update/delete в интерфейсе отсутствуют сознательно.
type Store interface {
	Append(ctx context.Context, rec domain.LineageRecord) error
	Query(ctx context.Context, f domain.LineageFilter) ([]domain.LineageRecord, error)
	UsageSince(ctx context.Context, since time.Time) ([]domain.UsageRow, error)
}

// Ledger — синхронный эмиттер lineage-записей.
// В отличие от ops-журнала здесь нет буфера и батчинга: запись обязана
// подтвердиться до отправки ответа, иначе "нет записи" могло бы означать
// "доступ был, но не залогирован".
type Ledger struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewLedger(store Store, timeout time.Duration, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:   store,
		timeout: timeout,
		logger:  logger.Named("lineage"),
		now:     time.Now,
	}
}

// Record дописывает запись о решении. Ошибка записи = ошибка запроса
// (fail closed: неаудированная выдача не имеет права завершиться успехом).
//
// Контекст намеренно отвязывается от отмены вызывающего: если вердикт уже
// принят, запись о нем должна состояться, даже если клиент отвалился.
func (l *Ledger) Record(ctx context.Context, rec domain.LineageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if err := l.store.Append(wctx, rec); err != nil {
		l.logger.Error("lineage append failed",
			zap.String("trace_id", rec.TraceID),
			zap.String("agent_id", rec.AgentID),
			zap.Error(err))
		return fmt.Errorf("lineage: append failed: %w", err)
	}
	return nil
}

// Query — путь чтения для отчетов и дашбордов. Newest-first, пагинация.
func (l *Ledger) Query(ctx context.Context, f domain.LineageFilter) ([]domain.LineageRecord, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}

	recs, err := l.store.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("lineage: query failed: %w", err)
	}
	// Фронтенду всегда уходит [], а не null
	if recs == nil {
		recs = []domain.LineageRecord{}
	}
	return recs, nil
}

// Usage — агрегат для Reports-тира
func (l *Ledger) Usage(ctx context.Context, since time.Time) ([]domain.UsageRow, error) {
	rows, err := l.store.UsageSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("lineage: usage query failed: %w", err)
	}
	if rows == nil {
		rows = []domain.UsageRow{}
	}
	return rows, nil
}
