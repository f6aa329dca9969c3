package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sandarb-io/gateway/internal/domain"
	"github.com/sandarb-io/gateway/internal/infra/auth"
	"go.uber.org/zap"
)

type fakeAccountStore struct {
	accounts map[string]*domain.ServiceAccount // digest -> account
	err      error
}

func (s *fakeAccountStore) FindByDigest(_ context.Context, digest string) (*domain.ServiceAccount, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.accounts[digest], nil
}

func newResolver(store *fakeAccountStore) *Resolver {
	return NewResolver(store, 2*time.Second, zap.NewNop())
}

func TestResolve_UnknownCredential(t *testing.T) {
	r := newResolver(&fakeAccountStore{accounts: map[string]*domain.ServiceAccount{}})

	if _, err := r.Resolve(context.Background(), "no-such-key", ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolve_EmptyCredential(t *testing.T) {
	r := newResolver(&fakeAccountStore{})

	if _, err := r.Resolve(context.Background(), "", "agent-1"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestResolve_ExpiredFailsClosed(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := &fakeAccountStore{accounts: map[string]*domain.ServiceAccount{
		auth.DigestAPIKey("key-1"): {ID: "sa-1", AgentID: "agent-1", ExpiresAt: &past},
	}}

	if _, err := newResolver(store).Resolve(context.Background(), "key-1", ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for expired account, got %v", err)
	}
}

func TestResolve_StoreErrorFailsClosed(t *testing.T) {
	store := &fakeAccountStore{err: errors.New("connection refused")}

	if _, err := newResolver(store).Resolve(context.Background(), "key-1", ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated on store error, got %v", err)
	}
}

func TestResolve_BoundAgentWinsOverHeader(t *testing.T) {
	store := &fakeAccountStore{accounts: map[string]*domain.ServiceAccount{
		auth.DigestAPIKey("key-1"): {ID: "sa-1", AgentID: "agent-1"},
	}}
	r := newResolver(store)

	id, err := r.Resolve(context.Background(), "key-1", "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.AgentID != "agent-1" || id.ServiceAccountID != "sa-1" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	// Подмена чужого agent id должна отбиваться
	if _, err := r.Resolve(context.Background(), "key-1", "agent-2"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated on agent mismatch, got %v", err)
	}
}

func TestResolve_DiscoveryAccountWithoutAgent(t *testing.T) {
	store := &fakeAccountStore{accounts: map[string]*domain.ServiceAccount{
		auth.DigestAPIKey("key-disc"): {ID: "sa-disc"},
	}}

	id, err := newResolver(store).Resolve(context.Background(), "key-disc", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.AgentID != "" {
		t.Fatalf("expected empty agent id, got %q", id.AgentID)
	}
}
