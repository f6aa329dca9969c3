package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sandarb-io/gateway/internal/domain"
	"github.com/sandarb-io/gateway/internal/infra"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ReliabilityWrapper декорирует чтения version store:
// Rate Limiter (глобальный потолок чтений) -> Circuit Breaker -> Retry.
// Бизнес-отказы (NotFound = nil, nil) сюда не попадают — ретраится только
// транзиентная сетевая ошибка, и ровно один повтор.
type ReliabilityWrapper struct {
	next    VersionStore
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration

	// Хук для метрики состояния предохранителя (0=closed, 1=open)
	onStateChange func(open bool)
}

func NewReliabilityWrapper(next VersionStore, cfg infra.EngineConfig, onStateChange func(open bool)) *ReliabilityWrapper {
	w := &ReliabilityWrapper{
		next:          next,
		timeout:       cfg.StoreTimeout,
		onStateChange: onStateChange,
	}

	w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "version-store",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if w.onStateChange != nil {
				w.onStateChange(to == gobreaker.StateOpen)
			}
		},
	})

	w.limiter = rate.NewLimiter(rate.Limit(cfg.ReadRate), cfg.ReadBurst)
	return w
}

func (w *ReliabilityWrapper) ResolveApproved(ctx context.Context, rtype domain.ResourceType, name string) (*domain.ResolvedResource, error) {
	// 1. Глобальный потолок пропускной способности чтений
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("read rate limit: %w", err)
	}

	var resource *domain.ResolvedResource

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			// Один повтор: ядро само не ретраит, а клиент может повторить весь запрос
			retry.Attempts(2),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если хранилище сообщило точный Retry-After — уважаем его
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			// Каждая попытка с собственным потолком: зависших чтений не бывает
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()

			var callErr error
			resource, callErr = w.next.ResolveApproved(tCtx, rtype, name)
			return callErr
		})

		return nil, retryErr
	})

	if err != nil {
		return nil, err
	}
	return resource, nil
}
