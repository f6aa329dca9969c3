package resolver

import (
	"fmt"
	"time"
)

// ThrottleError позволяет хранилищу сообщить точную задержку повтора
// (например, из Retry-After внешнего version store). Retry-цикл
// reliability-обертки учитывает ее вместо стандартного бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}
