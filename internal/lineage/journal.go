package lineage

/*
Ops-журнал — высокопроизводительный сборщик операционной телеметрии.

Ключевые особенности архитектуры:
- Non-blocking Logging: неблокирующий канал для передачи событий из Hot Path
  шлюза, задержки записи в БД не влияют на Response Time.
- Batching: накопление событий в памяти и пакетная запись по таймеру
  или при достижении лимита (100 событий).
- Drain Pattern & Graceful Shutdown: полная вычитка буфера при остановке
  через закрытие канала и sync.WaitGroup — Final Flush без потерь.

Комплаенс-леджер (ledger.go) этим путем НЕ пользуется: там запись
синхронная по контракту.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// JournalStorage определяет, куда физически сохраняются ops-события
type JournalStorage interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []OpsEvent) error
}

// BufferGauge — хук для метрики заполненности буфера (backpressure)
type BufferGauge interface {
	Set(v float64)
}

type Journal struct {
	ch     chan OpsEvent
	repo   JournalStorage
	logger *zap.Logger
	gauge  BufferGauge
	wg     sync.WaitGroup

	flushInterval time.Duration

	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Log после Stop
	isClosed int32
}

func NewJournal(repo JournalStorage, bufferSize int, flushInterval time.Duration, gauge BufferGauge, logger *zap.Logger) *Journal {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Journal{
		ch:            make(chan OpsEvent, bufferSize),
		repo:          repo,
		gauge:         gauge,
		flushInterval: flushInterval,
		logger:        logger.With(zap.String("mod", "ops-journal")),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (j *Journal) Stop() {
	// 1. Сначала ставим флаг
	atomic.StoreInt32(&j.isClosed, 1)

	// 2. Крошечная пауза, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	// 3. Drain Pattern: завершение воркера идет исключительно через закрытие канала
	j.logger.Info("stopping ops journal: closing channel and flushing buffer...")
	close(j.ch)
	j.wg.Wait()
	j.logger.Info("ops journal stopped gracefully")
}

func (j *Journal) Log(event OpsEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Атомарно проверяем, не закрыт ли канал
	if atomic.LoadInt32(&j.isClosed) == 1 {
		j.logger.Warn("ops event dropped: journal is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении буфера событие уходит в обычный лог,
	// Hot Path не блокируется
	select {
	case j.ch <- event:
		if j.gauge != nil {
			j.gauge.Set(float64(len(j.ch)))
		}
	default:
		j.logger.Error("ops_buffer_overflow",
			zap.String("caller_id", event.CallerID),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]OpsEvent, 0, 100)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст на shutdown может быть уже закрыт
			if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
				j.logger.Error("ops journal flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки — финальный flush и выход
				flush()
				j.logger.Info("ops journal worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
