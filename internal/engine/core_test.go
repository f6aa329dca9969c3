package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandarb-io/gateway/internal/domain"
	"github.com/sandarb-io/gateway/internal/infra"
	"github.com/sandarb-io/gateway/internal/lineage"
	"github.com/sandarb-io/gateway/internal/policy"
	"go.uber.org/zap"
)

// --- In-memory фейки коллабораторов ядра ---

type fakeIdentity struct {
	accounts map[string]*domain.CallerIdentity // credential -> identity
}

func (f *fakeIdentity) Resolve(_ context.Context, credential, presentedAgent string) (*domain.CallerIdentity, error) {
	id, ok := f.accounts[credential]
	if !ok {
		return nil, errors.New("unknown credential")
	}
	if id.AgentID != "" && presentedAgent != "" && presentedAgent != id.AgentID {
		return nil, errors.New("agent binding mismatch")
	}
	return id, nil
}

type fakeRegistry struct {
	approvals map[string]domain.ApprovalStatus
	links     map[string]bool // "agent:type:name"
}

func (f *fakeRegistry) ApprovalStateOf(_ context.Context, agentID string) domain.ApprovalStatus {
	if st, ok := f.approvals[agentID]; ok {
		return st
	}
	return domain.ApprovalUnknown
}

func (f *fakeRegistry) IsLinked(_ context.Context, agentID string, rtype domain.ResourceType, name string) bool {
	return f.links[agentID+":"+string(rtype)+":"+name]
}

type fakeResolver struct {
	resources map[string]*domain.ResolvedResource // "type:name"
	err       error
}

func (f *fakeResolver) Resolve(_ context.Context, rtype domain.ResourceType, name string) (*domain.ResolvedResource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resources[string(rtype)+":"+name], nil
}

type fakeLedger struct {
	records []domain.LineageRecord
	err     error
}

func (f *fakeLedger) Record(_ context.Context, rec domain.LineageRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

type fakeGuard struct {
	deny       bool
	retryAfter time.Duration
	calls      int
}

func (f *fakeGuard) Check(string, domain.Tier) (bool, time.Duration) {
	f.calls++
	return !f.deny, f.retryAfter
}

type nopJournalStorage struct{}

func (nopJournalStorage) WriteBatch(context.Context, []lineage.OpsEvent) error { return nil }

// --- Сборка тестового ядра ---

type fixture struct {
	core     *Core
	identity *fakeIdentity
	registry *fakeRegistry
	resolver *fakeResolver
	ledger   *fakeLedger
	guard    *fakeGuard
}

func newFixture(t *testing.T, preview *policy.PreviewTable) *fixture {
	t.Helper()

	content, err := domain.ContentFromJSON([]byte(`{"text":"hello {{name}}","region":"{{region}}"}`))
	if err != nil {
		t.Fatalf("content: %v", err)
	}

	f := &fixture{
		identity: &fakeIdentity{accounts: map[string]*domain.CallerIdentity{
			"key-billing": {ServiceAccountID: "sa-1", AgentID: "agent-billing"},
			"key-nobody":  {ServiceAccountID: "sa-2", AgentID: "agent-nobody"},
			"key-preview": {ServiceAccountID: "sa-3", AgentID: "preview-ui"},
		}},
		registry: &fakeRegistry{
			approvals: map[string]domain.ApprovalStatus{
				"agent-billing": domain.ApprovalApproved,
				"preview-ui":    domain.ApprovalApproved,
			},
			links: map[string]bool{
				"agent-billing:context:billing-rules": true,
			},
		},
		resolver: &fakeResolver{resources: map[string]*domain.ResolvedResource{
			"context:billing-rules": {
				Type:           domain.ResourceContext,
				Name:           "billing-rules",
				VersionID:      "v7",
				Content:        content,
				Classification: domain.ClassInternal,
			},
		}},
		ledger: &fakeLedger{},
		guard:  &fakeGuard{},
	}

	journal := lineage.NewJournal(nopJournalStorage{}, 128, time.Second, nil, zap.NewNop())
	f.core = NewCore(f.identity, f.registry, f.resolver, f.ledger, f.guard, preview, journal, NewMetrics(nil), zap.NewNop())
	return f
}

func deliverReq(credential, agentID, name string, vars map[string]string) *Request {
	return &Request{
		Credential: credential,
		AgentID:    agentID,
		Type:       domain.ResourceContext,
		Name:       name,
		Variables:  vars,
	}
}

// --- Тесты ---

func TestDeliver_AllowedPath(t *testing.T) {
	f := newFixture(t, nil)

	resp, deny := f.core.Deliver(context.Background(), deliverReq(
		"key-billing", "agent-billing", "billing-rules",
		map[string]string{"name": "Ann"},
	))
	if deny != nil {
		t.Fatalf("unexpected deny: %+v", deny)
	}
	if resp.VersionID != "v7" {
		t.Fatalf("version = %q, want v7", resp.VersionID)
	}

	// Интерполяция: известная переменная подставлена, неизвестная выжила
	text := resp.Content.GetFields()["text"].GetStringValue()
	if text != "hello Ann" {
		t.Fatalf("text = %q", text)
	}
	region := resp.Content.GetFields()["region"].GetStringValue()
	if region != "{{region}}" {
		t.Fatalf("unknown placeholder must survive verbatim, got %q", region)
	}

	// Ровно одна lineage-запись, с версией
	if len(f.ledger.records) != 1 {
		t.Fatalf("lineage records = %d, want 1", len(f.ledger.records))
	}
	rec := f.ledger.records[0]
	if rec.Decision != domain.DecisionAllowed || rec.VersionID != "v7" || rec.AgentID != "agent-billing" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestDeliver_UnauthenticatedIsAuditedToo(t *testing.T) {
	f := newFixture(t, nil)

	_, deny := f.core.Deliver(context.Background(), deliverReq("bogus", "agent-x", "billing-rules", nil))
	if deny == nil || deny.Reason != domain.ReasonUnauthenticated {
		t.Fatalf("deny = %+v, want UNAUTHENTICATED", deny)
	}

	// Неаутентифицированный отказ тоже попадает в lineage,
	// с заявленным (непроверенным) agent id
	if len(f.ledger.records) != 1 {
		t.Fatalf("lineage records = %d, want 1", len(f.ledger.records))
	}
	if f.ledger.records[0].AgentID != "agent-x" {
		t.Fatalf("record agent = %q", f.ledger.records[0].AgentID)
	}

	// И до лимитера с хранилищами дело не дошло
	if f.guard.calls != 0 {
		t.Fatalf("limiter consulted %d times for anonymous caller", f.guard.calls)
	}
}

// Жизненный цикл агента: Draft -> Approved без линка -> с линком.
// Решения строго [Denied, Denied, Allowed], в lineage — в том же порядке.
func TestDeliver_AgentLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := func() *Request { return deliverReq("key-nobody", "agent-nobody", "billing-rules", nil) }

	// 1. Draft
	f.registry.approvals["agent-nobody"] = domain.ApprovalDraft
	_, deny := f.core.Deliver(ctx, req())
	if deny == nil || deny.Reason != domain.ReasonNotRegistered {
		t.Fatalf("draft: deny = %+v, want NOT_REGISTERED_OR_NOT_APPROVED", deny)
	}

	// 2. Approved, но без linkage
	f.registry.approvals["agent-nobody"] = domain.ApprovalApproved
	_, deny = f.core.Deliver(ctx, req())
	if deny == nil || deny.Reason != domain.ReasonNotLinked {
		t.Fatalf("unlinked: deny = %+v, want NOT_LINKED", deny)
	}

	// 3. Линк создан
	f.registry.links["agent-nobody:context:billing-rules"] = true
	resp, deny := f.core.Deliver(ctx, req())
	if deny != nil {
		t.Fatalf("linked: unexpected deny %+v", deny)
	}
	if resp.VersionID != "v7" {
		t.Fatalf("linked: resp = %+v", resp)
	}

	want := []struct {
		decision domain.Decision
		reason   domain.ReasonCode
	}{
		{domain.DecisionDenied, domain.ReasonNotRegistered},
		{domain.DecisionDenied, domain.ReasonNotLinked},
		{domain.DecisionAllowed, ""},
	}
	if len(f.ledger.records) != len(want) {
		t.Fatalf("lineage records = %d, want %d", len(f.ledger.records), len(want))
	}
	for i, w := range want {
		got := f.ledger.records[i]
		if got.Decision != w.decision || got.Reason != w.reason {
			t.Fatalf("record[%d] = %s/%s, want %s/%s", i, got.Decision, got.Reason, w.decision, w.reason)
		}
	}
}

// Несуществующий ресурс отбивается с NOT_FOUND даже для полностью
// одобренного агента: существование проверяется раньше linkage.
func TestDeliver_MissingResourceIsNotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, deny := f.core.Deliver(context.Background(), deliverReq("key-billing", "agent-billing", "ghost", nil))
	if deny == nil || deny.Reason != domain.ReasonNotFound {
		t.Fatalf("deny = %+v, want NOT_FOUND", deny)
	}
}

func TestDeliver_StoreOutageFailsClosed(t *testing.T) {
	f := newFixture(t, nil)
	f.resolver.err = errors.New("version store timeout")

	resp, deny := f.core.Deliver(context.Background(), deliverReq("key-billing", "agent-billing", "billing-rules", nil))
	if resp != nil {
		t.Fatal("store outage must never produce Allowed")
	}
	if deny == nil || deny.Reason != domain.ReasonUnavailable {
		t.Fatalf("deny = %+v, want UNAVAILABLE", deny)
	}

	// Отказ по недоступности — тоже вердикт, он аудируется
	if len(f.ledger.records) != 1 || f.ledger.records[0].Decision != domain.DecisionDenied {
		t.Fatalf("records = %+v", f.ledger.records)
	}
}

func TestDeliver_LedgerFailureDowngradesAllowed(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.err = errors.New("ledger db down")

	resp, deny := f.core.Deliver(context.Background(), deliverReq("key-billing", "agent-billing", "billing-rules", nil))
	if resp != nil {
		t.Fatal("unaudited delivery must not succeed")
	}
	if deny == nil || deny.Reason != domain.ReasonUnavailable {
		t.Fatalf("deny = %+v, want UNAVAILABLE", deny)
	}
}

func TestDeliver_RateLimitedProducesNoLineage(t *testing.T) {
	f := newFixture(t, nil)
	f.guard.deny = true
	f.guard.retryAfter = 42 * time.Second

	_, deny := f.core.Deliver(context.Background(), deliverReq("key-billing", "agent-billing", "billing-rules", nil))
	if deny == nil || deny.Reason != domain.ReasonRateLimited {
		t.Fatalf("deny = %+v, want RATE_LIMITED", deny)
	}
	if deny.RetryAfter != 42*time.Second {
		t.Fatalf("retryAfter = %v", deny.RetryAfter)
	}

	// Троттлинг — не комплаенс-событие
	if len(f.ledger.records) != 0 {
		t.Fatalf("rate-limit bounce wrote %d lineage records", len(f.ledger.records))
	}
}

func TestDeliver_PreviewBypassesLinkageOnly(t *testing.T) {
	preview := policy.NewPreviewTable(infra.PreviewConfig{
		Enabled: true,
		Identities: []infra.PreviewIdentityConfig{
			{ID: "preview-ui", BypassLinkage: true},
		},
	})
	f := newFixture(t, preview)

	// Approved, но не слинкован: для превью-учетки этого достаточно
	resp, deny := f.core.Deliver(context.Background(), deliverReq("key-preview", "preview-ui", "billing-rules", nil))
	if deny != nil {
		t.Fatalf("preview identity must bypass linkage: %+v", deny)
	}
	if resp.VersionID != "v7" {
		t.Fatalf("resp = %+v", resp)
	}

	// Но approval превью не обходит
	f.registry.approvals["preview-ui"] = domain.ApprovalDraft
	_, deny = f.core.Deliver(context.Background(), deliverReq("key-preview", "preview-ui", "billing-rules", nil))
	if deny == nil || deny.Reason != domain.ReasonNotRegistered {
		t.Fatalf("deny = %+v, want NOT_REGISTERED_OR_NOT_APPROVED", deny)
	}

	// И каждый превью-запрос аудируется как обычный
	if len(f.ledger.records) != 2 {
		t.Fatalf("lineage records = %d, want 2", len(f.ledger.records))
	}
}

// N запросов -> ровно N lineage-записей, независимо от исхода
func TestDeliver_OneRecordPerVerdict(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	reqs := []*Request{
		deliverReq("key-billing", "agent-billing", "billing-rules", nil), // Allowed
		deliverReq("key-billing", "agent-billing", "ghost", nil),         // NotFound
		deliverReq("bogus", "someone", "billing-rules", nil),             // Unauthenticated
		deliverReq("key-nobody", "agent-nobody", "billing-rules", nil),   // NotRegistered
	}
	for _, req := range reqs {
		f.core.Deliver(ctx, req)
	}

	if len(f.ledger.records) != len(reqs) {
		t.Fatalf("lineage records = %d, want %d", len(f.ledger.records), len(reqs))
	}
	for i, rec := range f.ledger.records {
		if rec.TraceID == "" {
			t.Fatalf("record[%d] missing trace id: %+v", i, rec)
		}
	}
}
