package policy

import "github.com/sandarb-io/gateway/internal/infra"

// PreviewIdentity — зарезервированная учетка интерактивного "try it" тулинга.
// Единственная capability — обход linkage-проверки; approval она не обходит,
// и каждый ее запрос пишется в lineage как обычный.
type PreviewIdentity struct {
	ID            string
	BypassLinkage bool
}

// PreviewTable — декларативная таблица привилегированных caller id.
// Собирается из конфига один раз на старте; в бизнес-логике никаких
// сравнений по соглашению об именовании.
type PreviewTable struct {
	enabled    bool
	identities map[string]PreviewIdentity
}

// NewPreviewTable строит таблицу из конфигурации.
// В проде preview.enabled = false, и таблица всегда отвечает nil.
func NewPreviewTable(cfg infra.PreviewConfig) *PreviewTable {
	t := &PreviewTable{
		enabled:    cfg.Enabled,
		identities: make(map[string]PreviewIdentity, len(cfg.Identities)),
	}
	for _, id := range cfg.Identities {
		t.identities[id.ID] = PreviewIdentity{ID: id.ID, BypassLinkage: id.BypassLinkage}
	}
	return t
}

// Lookup возвращает превью-учетку по caller id (agent id запроса)
func (t *PreviewTable) Lookup(callerID string) *PreviewIdentity {
	if t == nil || !t.enabled {
		return nil
	}
	if id, ok := t.identities[callerID]; ok {
		return &id
	}
	return nil
}
