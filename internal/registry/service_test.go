package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandarb-io/gateway/internal/domain"
	"go.uber.org/zap"
)

type fakeRepo struct {
	states map[string]domain.ApprovalStatus
	links  map[string]bool // "agent:type:name" -> true
	err    error
}

func (r *fakeRepo) ApprovalStateOf(_ context.Context, agentID string) (domain.ApprovalStatus, error) {
	if r.err != nil {
		return domain.ApprovalUnknown, r.err
	}
	if s, ok := r.states[agentID]; ok {
		return s, nil
	}
	return domain.ApprovalUnknown, nil
}

func (r *fakeRepo) IsLinked(_ context.Context, agentID string, rtype domain.ResourceType, name string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return r.links[agentID+":"+string(rtype)+":"+name], nil
}

func (r *fakeRepo) ListLinked(_ context.Context, _ string, _ domain.ResourceType) ([]string, error) {
	return nil, r.err
}

func (r *fakeRepo) Register(_ context.Context, agentID, orgID string) (*domain.AgentRegistration, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &domain.AgentRegistration{AgentID: agentID, OrgID: orgID, Status: domain.ApprovalDraft}, nil
}

func (r *fakeRepo) AgentRegistrations(_ context.Context) ([]domain.AgentRegistration, error) {
	var out []domain.AgentRegistration
	for id, s := range r.states {
		out = append(out, domain.AgentRegistration{AgentID: id, Status: s})
	}
	return out, r.err
}

// Менеджер без Redis: для юнит-тестов достаточно L1 кэша
func newTestService(repo *fakeRepo) *Service {
	mgr := NewApprovalManager(nil, repo, zap.NewNop())
	return NewService(repo, mgr, 2*time.Second, zap.NewNop())
}

func TestApprovalStateOf_CacheMissFallsThroughToRepo(t *testing.T) {
	repo := &fakeRepo{states: map[string]domain.ApprovalStatus{"agent-1": domain.ApprovalApproved}}
	svc := newTestService(repo)

	if got := svc.ApprovalStateOf(context.Background(), "agent-1"); got != domain.ApprovalApproved {
		t.Fatalf("got %s, want APPROVED", got)
	}

	// Второй вызов идет из кэша — уберем repo и убедимся
	repo.err = errors.New("db down")
	if got := svc.ApprovalStateOf(context.Background(), "agent-1"); got != domain.ApprovalApproved {
		t.Fatalf("cache miss on second call: got %s", got)
	}
}

func TestApprovalStateOf_FailsClosedOnRepoError(t *testing.T) {
	svc := newTestService(&fakeRepo{err: errors.New("timeout")})

	if got := svc.ApprovalStateOf(context.Background(), "agent-1"); got != domain.ApprovalUnknown {
		t.Fatalf("got %s, want UNKNOWN (fail closed)", got)
	}
}

func TestApprovalStateOf_UnregisteredIsUnknown(t *testing.T) {
	svc := newTestService(&fakeRepo{states: map[string]domain.ApprovalStatus{}})

	if got := svc.ApprovalStateOf(context.Background(), "ghost"); got != domain.ApprovalUnknown {
		t.Fatalf("got %s, want UNKNOWN", got)
	}
}

func TestIsLinked_FailsClosedOnRepoError(t *testing.T) {
	svc := newTestService(&fakeRepo{err: errors.New("timeout")})

	if svc.IsLinked(context.Background(), "agent-1", domain.ResourceContext, "c") {
		t.Fatal("linkage lookup failure must read as not-linked")
	}
}

func TestIsLinked_DefaultDeny(t *testing.T) {
	repo := &fakeRepo{links: map[string]bool{"agent-1:context:billing": true}}
	svc := newTestService(repo)

	if !svc.IsLinked(context.Background(), "agent-1", domain.ResourceContext, "billing") {
		t.Fatal("explicit link must be honored")
	}
	if svc.IsLinked(context.Background(), "agent-1", domain.ResourceContext, "other") {
		t.Fatal("absence of link must deny")
	}
}

func TestApprovalManager_SignalUpdatesCache(t *testing.T) {
	mgr := NewApprovalManager(nil, nil, zap.NewNop())

	mgr.Set("agent-1", domain.ApprovalDraft)
	if s, _ := mgr.StateOf("agent-1"); s != domain.ApprovalDraft {
		t.Fatalf("got %s", s)
	}

	// Имитация сигнала консоли "agent-1:APPROVED"
	mgr.Set("agent-1", domain.ParseApprovalStatus("APPROVED"))
	if s, _ := mgr.StateOf("agent-1"); s != domain.ApprovalApproved {
		t.Fatalf("got %s", s)
	}

	// Мусорный статус из сигнала схлопывается в Unknown
	mgr.Set("agent-1", domain.ParseApprovalStatus("SUPERUSER"))
	if s, _ := mgr.StateOf("agent-1"); s != domain.ApprovalUnknown {
		t.Fatalf("got %s", s)
	}
}
