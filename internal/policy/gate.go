package policy

import "github.com/sandarb-io/gateway/internal/domain"

/*
Пакет policy — точка принятия решения (PDP) о выдаче ресурса.

Decide — чистая функция от трех входов (identity, состояние реестра,
состояние ресурса), без блокировок и без походов в хранилища.
Порядок проверок фиксирован и является инвариантом конфиденциальности:
существование ресурса проверяется ДО регистрации, чтобы NotFound не давал
перечислять граф линковки по разнице ответов.
*/

// Input — все, что нужно для вердикта. Собирается ядром до вызова Decide.
type Input struct {
	Identity *domain.CallerIdentity // nil = credential не прошел резолв
	Approval domain.ApprovalStatus  // Unknown при сбое реестра (fail closed)
	Linked   bool                   // false при сбое реестра (fail closed)
	Resource *domain.ResolvedResource
	Preview  *PreviewIdentity // non-nil, если caller — разрешенная превью-учетка
}

// Verdict — терминальное состояние. Ровно один вердикт на запрос,
// и ровно одна lineage-запись на вердикт.
type Verdict struct {
	Decision domain.Decision
	Reason   domain.ReasonCode // Пуст при Allowed
}

func allow() Verdict {
	return Verdict{Decision: domain.DecisionAllowed}
}

func deny(reason domain.ReasonCode) Verdict {
	return Verdict{Decision: domain.DecisionDenied, Reason: reason}
}

// Decide реализует машину состояний выдачи:
//
//	identity -> существование -> approval -> linkage -> Allowed
func Decide(in Input) Verdict {
	// 1. Идентичность. Без валидного credential агент не узнает ничего,
	// включая сам факт существования ресурса.
	if in.Identity == nil {
		return deny(domain.ReasonUnauthenticated)
	}

	// Выдача ресурса требует sourceAgent; discovery-аккаунт без агента
	// валиден только для discovery-тира и до сюда доходить не должен.
	if in.Identity.AgentID == "" {
		return deny(domain.ReasonUnauthenticated)
	}

	// 2. Существование одобренной версии. Раньше проверки регистрации:
	// ресурс только с черновыми ревизиями неотличим от несуществующего.
	if in.Resource == nil {
		return deny(domain.ReasonNotFound)
	}

	// 3. Approval агента. Превью-учетки эту проверку НЕ обходят.
	if in.Approval != domain.ApprovalApproved {
		return deny(domain.ReasonNotRegistered)
	}

	// 4. Linkage — default deny. Единственное, что обходит превью.
	if !in.Linked && !in.bypassLinkage() {
		return deny(domain.ReasonNotLinked)
	}

	return allow()
}

func (in Input) bypassLinkage() bool {
	return in.Preview != nil && in.Preview.BypassLinkage
}
