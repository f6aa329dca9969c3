package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sandarb-io/gateway/internal/domain"
	"github.com/sandarb-io/gateway/internal/ratelimit"
	"go.uber.org/zap"
)

type fakeRegistryAPI struct {
	linked map[string][]string // "agent:type" -> names
}

func (f *fakeRegistryAPI) ListLinked(_ context.Context, agentID string, rtype domain.ResourceType) ([]string, error) {
	return f.linked[agentID+":"+string(rtype)], nil
}

func (f *fakeRegistryAPI) RegisterAgent(_ context.Context, agentID, orgID string) (*domain.AgentRegistration, error) {
	return &domain.AgentRegistration{AgentID: agentID, OrgID: orgID, Status: domain.ApprovalDraft}, nil
}

type fakeReports struct {
	records []domain.LineageRecord
}

func (f *fakeReports) Query(_ context.Context, filter domain.LineageFilter) ([]domain.LineageRecord, error) {
	out := []domain.LineageRecord{}
	for _, rec := range f.records {
		if filter.AgentID != "" && rec.AgentID != filter.AgentID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeReports) Usage(context.Context, time.Time) ([]domain.UsageRow, error) {
	return []domain.UsageRow{}, nil
}

func newTestServer(t *testing.T, limits map[domain.Tier]int) (*Server, *fixture) {
	t.Helper()
	f := newFixture(t, nil)

	srv := NewServer(
		f.core,
		f.identity,
		&fakeRegistryAPI{linked: map[string][]string{
			"agent-billing:context": {"billing-rules", "billing-faq"},
		}},
		&fakeReports{records: []domain.LineageRecord{
			{ID: "r1", AgentID: "agent-billing", Decision: domain.DecisionAllowed},
		}},
		ratelimit.NewLimiter(limits, time.Minute),
		NewMetrics(nil),
		zap.NewNop(),
	)
	return srv, f
}

func TestHTTP_GetResource(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/context/billing-rules?var.name=Ann", nil)
	req.Header.Set(HeaderAPIKey, "key-billing")
	req.Header.Set(HeaderAgentID, "agent-billing")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get(HeaderTraceID) == "" {
		t.Fatal("trace id header must be echoed back")
	}

	var body struct {
		VersionID string                 `json:"version_id"`
		Content   map[string]interface{} `json:"content"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.VersionID != "v7" {
		t.Fatalf("version = %q", body.VersionID)
	}
	if body.Content["text"] != "hello Ann" {
		t.Fatalf("content = %+v", body.Content)
	}
}

func TestHTTP_GetResource_YAMLFormat(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/context/billing-rules?format=yaml", nil)
	req.Header.Set(HeaderAPIKey, "key-billing")
	req.Header.Set(HeaderAgentID, "agent-billing")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Fatalf("content-type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "version_id: v7") {
		t.Fatalf("yaml body = %s", rr.Body.String())
	}
}

func TestHTTP_DenyStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		credential string
		agent      string
		resource   string
		wantStatus int
		wantReason domain.ReasonCode
	}{
		{"unauthenticated", "bogus", "agent-billing", "billing-rules", http.StatusUnauthorized, domain.ReasonUnauthenticated},
		{"not found", "key-billing", "agent-billing", "ghost", http.StatusNotFound, domain.ReasonNotFound},
		{"not approved", "key-nobody", "agent-nobody", "billing-rules", http.StatusForbidden, domain.ReasonNotRegistered},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t, nil)

			req := httptest.NewRequest(http.MethodGet, "/v1/context/"+tc.resource, nil)
			req.Header.Set(HeaderAPIKey, tc.credential)
			req.Header.Set(HeaderAgentID, tc.agent)
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rr.Code, tc.wantStatus, rr.Body.String())
			}
			var body struct {
				Reason domain.ReasonCode `json:"reason"`
			}
			json.Unmarshal(rr.Body.Bytes(), &body)
			if body.Reason != tc.wantReason {
				t.Fatalf("reason = %q, want %q", body.Reason, tc.wantReason)
			}
		})
	}
}

func TestHTTP_Invoke(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	envelope := `{
		"method": "context.get",
		"params": {
			"name": "billing-rules",
			"sourceAgent": "agent-billing",
			"traceId": "trace-42",
			"variables": {"name": "Bob"}
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", bytes.NewBufferString(envelope))
	req.Header.Set(HeaderAPIKey, "key-billing")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var body struct {
		TraceID string                 `json:"trace_id"`
		Content map[string]interface{} `json:"content"`
	}
	json.Unmarshal(rr.Body.Bytes(), &body)
	if body.TraceID != "trace-42" {
		t.Fatalf("trace id = %q, want caller-supplied trace-42", body.TraceID)
	}
	if body.Content["text"] != "hello Bob" {
		t.Fatalf("content = %+v", body.Content)
	}
}

func TestHTTP_Invoke_UnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", bytes.NewBufferString(`{"method":"context.delete","params":{"name":"x"}}`))
	req.Header.Set(HeaderAPIKey, "key-billing")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHTTP_ListLinked(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/contexts", nil)
	req.Header.Set(HeaderAPIKey, "key-billing")
	req.Header.Set(HeaderAgentID, "agent-billing")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Names []string `json:"names"`
	}
	json.Unmarshal(rr.Body.Bytes(), &body)
	if len(body.Names) != 2 {
		t.Fatalf("names = %v", body.Names)
	}
}

func TestHTTP_ListRequiresIdentity(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/contexts", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestHTTP_TierLimitWithRetryAfter(t *testing.T) {
	srv, _ := newTestServer(t, map[domain.Tier]int{domain.TierAudit: 2})

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/lineage", nil)
		req.Header.Set(HeaderAPIKey, "key-billing")
		req.Header.Set(HeaderAgentID, "agent-billing")
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := do(); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, body = %s", i, rr.Code, rr.Body.String())
		}
	}

	rr := do()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("429 must carry Retry-After")
	}

	// Бюджеты тиров раздельные: Audit исчерпан, ping проходит
	ping := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	ping.Header.Set(HeaderAPIKey, "key-billing")
	ping.Header.Set(HeaderAgentID, "agent-billing")
	prr := httptest.NewRecorder()
	srv.ServeHTTP(prr, ping)
	if prr.Code != http.StatusOK {
		t.Fatalf("ping status = %d", prr.Code)
	}
}

func TestHTTP_Register(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	body := bytes.NewBufferString(`{"agent_id":"agent-new","org_id":"org-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/agents/register", body)
	req.Header.Set(HeaderAPIKey, "key-billing")
	req.Header.Set(HeaderAgentID, "agent-billing")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var reg domain.AgentRegistration
	json.Unmarshal(rr.Body.Bytes(), &reg)
	if reg.Status != domain.ApprovalDraft {
		t.Fatalf("fresh registration status = %q, want draft", reg.Status)
	}
}

// Проверяем, что собранный через HTTP запрос оставляет lineage-след
func TestHTTP_DeliveryWritesLineage(t *testing.T) {
	srv, f := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/context/billing-rules", nil)
	req.Header.Set(HeaderAPIKey, "key-billing")
	req.Header.Set(HeaderAgentID, "agent-billing")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(f.ledger.records) != 1 {
		t.Fatalf("lineage records = %d, want 1", len(f.ledger.records))
	}
	if f.ledger.records[0].TraceID != rr.Header().Get(HeaderTraceID) {
		t.Fatal("lineage trace id must match the response header")
	}
}
