package domain

import (
	"fmt"
	"time"
)

// Decision — терминальное состояние обработки запроса
type Decision string

const (
	DecisionAllowed Decision = "ALLOWED"
	DecisionDenied  Decision = "DENIED"
)

// ReasonCode — стабильный машиночитаемый код отказа.
// Коды — часть внешнего контракта, менять без версии API нельзя.
type ReasonCode string

const (
	ReasonUnauthenticated ReasonCode = "UNAUTHENTICATED"                 // Нет/просрочен credential
	ReasonNotFound        ReasonCode = "NOT_FOUND"                       // Ресурс отсутствует или не имеет одобренной версии
	ReasonNotRegistered   ReasonCode = "NOT_REGISTERED_OR_NOT_APPROVED"  // Агент не прошел approval
	ReasonNotLinked       ReasonCode = "NOT_LINKED"                      // Нет явного гранта агент->ресурс
	ReasonRateLimited     ReasonCode = "RATE_LIMITED"                    // Исчерпан бюджет тира
	ReasonUnavailable     ReasonCode = "UNAVAILABLE"                     // Коллаборатор недоступен, fail-closed отказ
)

// DenyError переносит отказ через границы слоев, не теряя код причины.
// RetryAfter заполняется только для RATE_LIMITED.
type DenyError struct {
	Reason     ReasonCode
	Message    string
	RetryAfter time.Duration
}

func (e *DenyError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("denied [%s]: %s (retry after %v)", e.Reason, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("denied [%s]: %s", e.Reason, e.Message)
}

// Deny — конструктор для типовых отказов
func Deny(reason ReasonCode, message string) *DenyError {
	return &DenyError{Reason: reason, Message: message}
}
