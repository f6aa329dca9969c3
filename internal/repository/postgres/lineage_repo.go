package postgres

/*
Файл lineage_repo.go обслуживает два независимых потока записи:
  - комплаенс-леджер (lineage_records): строго по одной строке на решение,
    синхронный INSERT в Hot Path — ошибка здесь валит запрос (fail closed);
  - ops-журнал (ops_events): пакетная вставка телеметрии из фонового воркера,
    потеря батча не влияет на комплаенс.
*/

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sandarb-io/gateway/internal/domain"
	"github.com/sandarb-io/gateway/internal/lineage"
)

type LineageRepo struct {
	pool *pgxpool.Pool
}

func NewLineageRepo(pool *pgxpool.Pool) *LineageRepo {
	return &LineageRepo{pool: pool}
}

// Append дописывает одну запись леджера. Только INSERT: update/delete
// у этой таблицы нет даже на уровне методов репозитория.
func (r *LineageRepo) Append(ctx context.Context, rec domain.LineageRecord) error {
	query := `
		INSERT INTO lineage_records
			(id, trace_id, agent_id, resource_type, resource_name, version_id, decision, reason, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.TraceID, rec.AgentID, rec.ResourceType, rec.ResourceName,
		rec.VersionID, rec.Decision, rec.Reason, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: lineage append failed: %w", err)
	}
	return nil
}

// Query — выборка для отчетов. Newest-first, limit/offset.
func (r *LineageRepo) Query(ctx context.Context, f domain.LineageFilter) ([]domain.LineageRecord, error) {
	query := `
		SELECT id, trace_id, agent_id, resource_type, resource_name,
		       COALESCE(version_id, ''), decision, COALESCE(reason, ''), timestamp
		FROM lineage_records`

	// Динамическая сборка WHERE по заданным полям фильтра
	var conds []string
	var args []interface{}
	add := func(cond string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if f.ResourceName != "" {
		add("resource_name = $%d", f.ResourceName)
	}
	if f.TraceID != "" {
		add("trace_id = $%d", f.TraceID)
	}
	if !f.Since.IsZero() {
		add("timestamp >= $%d", f.Since)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: lineage query failed: %w", err)
	}
	defer rows.Close()

	results := make([]domain.LineageRecord, 0)
	for rows.Next() {
		var rec domain.LineageRecord
		err := rows.Scan(
			&rec.ID, &rec.TraceID, &rec.AgentID, &rec.ResourceType, &rec.ResourceName,
			&rec.VersionID, &rec.Decision, &rec.Reason, &rec.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan lineage record error: %w", err)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// UsageSince — агрегат Reports-тира: решения по агентам за окно
func (r *LineageRepo) UsageSince(ctx context.Context, since time.Time) ([]domain.UsageRow, error) {
	query := `
		SELECT agent_id,
		       COUNT(*) FILTER (WHERE decision = 'ALLOWED'),
		       COUNT(*) FILTER (WHERE decision = 'DENIED')
		FROM lineage_records
		WHERE timestamp >= $1 AND agent_id != ''
		GROUP BY agent_id
		ORDER BY agent_id`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: usage query failed: %w", err)
	}
	defer rows.Close()

	results := make([]domain.UsageRow, 0)
	for rows.Next() {
		var row domain.UsageRow
		if err := rows.Scan(&row.AgentID, &row.Allowed, &row.Denied); err != nil {
			return nil, fmt.Errorf("postgres: scan usage row error: %w", err)
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// WriteBatch сохраняет пачку ops-событий за один запрос
func (r *LineageRepo) WriteBatch(ctx context.Context, events []lineage.OpsEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице ops_events
	numFields := 8
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8)

		vals = append(vals,
			e.ID, e.TraceID, e.CallerID, e.Tier, e.Kind, e.Reason, e.Timestamp, e.DurationMs,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO ops_events (id, trace_id, caller_id, tier, kind, reason, timestamp, duration_ms) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}
