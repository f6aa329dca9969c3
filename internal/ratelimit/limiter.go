package ratelimit

/*
Sliding-window лимитер по ключу (callerID, tier).

Требования из внешнего контракта:
  - бюджеты раздельные по тирам: исчерпанный List не блокирует Get;
  - раздельные по caller-ам: нагрузка одного tenant-а не душит другого;
  - отказ несет retryAfter — время до выхода старейшей метки из окна.

Единственная разделяемая мутабельная структура всего ядра. Глобальной
блокировки нет: RWMutex только на мапе ключей, prune+count+append каждого
окна атомарны под его собственным мьютексом.
*/

import (
	"sync"
	"time"

	"github.com/sandarb-io/gateway/internal/domain"
)

type window struct {
	mu     sync.Mutex
	stamps []time.Time // Упорядочены по возрастанию
}

type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window

	budgets map[domain.Tier]int // 0 = без лимита
	period  time.Duration
	now     func() time.Time // Подменяется в тестах
}

func NewLimiter(budgets map[domain.Tier]int, period time.Duration) *Limiter {
	if period <= 0 {
		period = time.Minute
	}
	return &Limiter{
		windows: make(map[string]*window),
		budgets: budgets,
		period:  period,
		now:     time.Now,
	}
}

// Check атомарно проверяет и занимает слот в окне.
// ok=false означает отказ; retryAfter — сколько ждать до освобождения слота.
func (l *Limiter) Check(callerID string, tier domain.Tier) (ok bool, retryAfter time.Duration) {
	budget := l.budgets[tier]
	if budget <= 0 {
		return true, 0 // Discovery и прочие безлимитные тиры
	}

	w := l.window(callerID + ":" + string(tier))
	now := l.now()
	cutoff := now.Add(-l.period)

	w.mu.Lock()
	defer w.mu.Unlock()

	// Ленивый prune: выбрасываем метки старше окна
	keep := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	w.stamps = keep

	if len(w.stamps) >= budget {
		// Слот освободится, когда старейшая метка выйдет из окна
		return false, w.stamps[0].Add(l.period).Sub(now)
	}

	w.stamps = append(w.stamps, now)
	return true, 0
}

func (l *Limiter) window(key string) *window {
	l.mu.RLock()
	w, found := l.windows[key]
	l.mu.RUnlock()
	if found {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Перепроверка: ключ могли создать между RUnlock и Lock
	if w, found = l.windows[key]; found {
		return w
	}
	w = &window{}
	l.windows[key] = w
	return w
}
