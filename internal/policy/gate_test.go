package policy

import (
	"testing"

	"github.com/sandarb-io/gateway/internal/domain"
	"github.com/sandarb-io/gateway/internal/infra"
)

func ident(agentID string) *domain.CallerIdentity {
	return &domain.CallerIdentity{ServiceAccountID: "sa-1", AgentID: agentID}
}

func resource() *domain.ResolvedResource {
	return &domain.ResolvedResource{
		Type:      domain.ResourceContext,
		Name:      "billing-rules",
		VersionID: "v7",
	}
}

func TestDecide_Unauthenticated(t *testing.T) {
	v := Decide(Input{Identity: nil, Resource: resource(), Approval: domain.ApprovalApproved, Linked: true})
	if v.Decision != domain.DecisionDenied || v.Reason != domain.ReasonUnauthenticated {
		t.Fatalf("got %+v", v)
	}
}

func TestDecide_AgentlessIdentityCannotFetch(t *testing.T) {
	v := Decide(Input{Identity: ident(""), Resource: resource(), Approval: domain.ApprovalApproved, Linked: true})
	if v.Reason != domain.ReasonUnauthenticated {
		t.Fatalf("got %+v", v)
	}
}

// Существование проверяется раньше регистрации: незарегистрированный агент
// на несуществующем ресурсе видит NOT_FOUND, а не свой статус регистрации.
func TestDecide_ExistencePrecedesRegistration(t *testing.T) {
	v := Decide(Input{Identity: ident("agent-1"), Resource: nil, Approval: domain.ApprovalUnknown})
	if v.Reason != domain.ReasonNotFound {
		t.Fatalf("expected NOT_FOUND, got %+v", v)
	}
}

// И раньше linkage: NOT_LINKED на несуществующем ресурсе недостижим.
func TestDecide_ExistencePrecedesLinkage(t *testing.T) {
	v := Decide(Input{Identity: ident("agent-1"), Resource: nil, Approval: domain.ApprovalApproved, Linked: false})
	if v.Reason != domain.ReasonNotFound {
		t.Fatalf("expected NOT_FOUND, got %+v", v)
	}
}

func TestDecide_ApprovalStates(t *testing.T) {
	for _, status := range []domain.ApprovalStatus{
		domain.ApprovalUnknown,
		domain.ApprovalDraft,
		domain.ApprovalPending,
		domain.ApprovalRejected,
	} {
		v := Decide(Input{Identity: ident("agent-1"), Resource: resource(), Approval: status, Linked: true})
		if v.Reason != domain.ReasonNotRegistered {
			t.Errorf("status %s: expected NOT_REGISTERED_OR_NOT_APPROVED, got %+v", status, v)
		}
	}
}

// Linkage — default deny: approved агент без грантов не получает ничего.
func TestDecide_DefaultDenyWithoutLink(t *testing.T) {
	v := Decide(Input{Identity: ident("agent-1"), Resource: resource(), Approval: domain.ApprovalApproved, Linked: false})
	if v.Reason != domain.ReasonNotLinked {
		t.Fatalf("expected NOT_LINKED, got %+v", v)
	}
}

func TestDecide_Allowed(t *testing.T) {
	v := Decide(Input{Identity: ident("agent-1"), Resource: resource(), Approval: domain.ApprovalApproved, Linked: true})
	if v.Decision != domain.DecisionAllowed || v.Reason != "" {
		t.Fatalf("got %+v", v)
	}
}

// Превью обходит ТОЛЬКО linkage. Approval-проверку — никогда.
func TestDecide_PreviewBypassesLinkageOnly(t *testing.T) {
	preview := &PreviewIdentity{ID: "context-preview", BypassLinkage: true}

	v := Decide(Input{Identity: ident("context-preview"), Resource: resource(),
		Approval: domain.ApprovalApproved, Linked: false, Preview: preview})
	if v.Decision != domain.DecisionAllowed {
		t.Fatalf("preview against unlinked resource: got %+v", v)
	}

	v = Decide(Input{Identity: ident("context-preview"), Resource: resource(),
		Approval: domain.ApprovalPending, Linked: false, Preview: preview})
	if v.Reason != domain.ReasonNotRegistered {
		t.Fatalf("preview must not bypass approval: got %+v", v)
	}
}

func TestPreviewTable_DisabledByDefault(t *testing.T) {
	table := NewPreviewTable(infra.PreviewConfig{
		Enabled:    false,
		Identities: []infra.PreviewIdentityConfig{{ID: "context-preview", BypassLinkage: true}},
	})
	if table.Lookup("context-preview") != nil {
		t.Fatal("disabled table must not return identities")
	}
}

func TestPreviewTable_Lookup(t *testing.T) {
	table := NewPreviewTable(infra.PreviewConfig{
		Enabled:    true,
		Identities: []infra.PreviewIdentityConfig{{ID: "prompt-preview", BypassLinkage: true}},
	})

	if p := table.Lookup("prompt-preview"); p == nil || !p.BypassLinkage {
		t.Fatalf("got %+v", p)
	}
	if table.Lookup("other") != nil {
		t.Fatal("unknown caller must not be preview")
	}
}
