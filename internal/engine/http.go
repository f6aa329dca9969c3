package engine

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sandarb-io/gateway/internal/domain"
	"github.com/sandarb-io/gateway/internal/ratelimit"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"
)

// Server — HTTP-биндинг Data Plane шлюза.
// Оба документированных транспорта (query/headers и JSON-RPC конверт)
// собирают одинаковый engine.Request и идут через один Core.Deliver.
type Server struct {
	router   *chi.Mux
	core     *Core
	identity IdentityResolver
	registry RegistryAPI
	reports  ReportsProvider
	limiter  *ratelimit.Limiter
	metrics  *Metrics
	logger   *zap.Logger
}

// RegistryAPI — операции реестра, доступные через шлюз (List/Register тиры)
type RegistryAPI interface {
	ListLinked(ctx context.Context, agentID string, rtype domain.ResourceType) ([]string, error)
	RegisterAgent(ctx context.Context, agentID, orgID string) (*domain.AgentRegistration, error)
}

// ReportsProvider — путь чтения lineage для Audit/Reports тиров
type ReportsProvider interface {
	Query(ctx context.Context, f domain.LineageFilter) ([]domain.LineageRecord, error)
	Usage(ctx context.Context, since time.Time) ([]domain.UsageRow, error)
}

func NewServer(
	core *Core,
	identity IdentityResolver,
	reg RegistryAPI,
	reports ReportsProvider,
	limiter *ratelimit.Limiter,
	metrics *Metrics,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		core:     core,
		identity: identity,
		registry: reg,
		reports:  reports,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger.Named("gateway-api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// Инфраструктурные Middleware для всех роутов
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)

	// Выдача ресурсов: identity и limiter внутри Core.Deliver,
	// чтобы каждый вердикт (включая Unauthenticated) прошел через lineage
	r.Get("/v1/context/{name}", s.handleDeliver(domain.ResourceContext))
	r.Get("/v1/prompt/{name}", s.handleDeliver(domain.ResourcePrompt))
	r.Post("/v1/invoke", s.handleInvoke)

	// Остальные тиры: identity-периметр + тир-лимиты
	r.Group(func(r chi.Router) {
		r.Use(s.identityMiddleware)

		limit := func(tier domain.Tier) func(http.Handler) http.Handler {
			return ratelimit.Middleware(s.limiter, tier, callerKeyFromRequest, func(string) {
				s.metrics.RateLimitedTotal.WithLabelValues(string(tier)).Inc()
			})
		}

		r.With(limit(domain.TierList)).Get("/v1/contexts", s.handleList(domain.ResourceContext))
		r.With(limit(domain.TierList)).Get("/v1/prompts", s.handleList(domain.ResourcePrompt))
		r.With(limit(domain.TierRegister)).Post("/v1/agents/register", s.handleRegister)
		r.With(limit(domain.TierAudit)).Get("/v1/lineage", s.handleLineage)
		r.With(limit(domain.TierReports)).Get("/v1/reports/usage", s.handleUsage)

		// Discovery — без лимита
		r.Get("/v1/ping", s.handlePing)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// identityMiddleware резолвит credential для не-delivery тиров.
// Здесь 401 сразу: эти операции не выдают ресурсы и в lineage не пишутся.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.identity.Resolve(r.Context(), credential(r), r.Header.Get(HeaderAgentID))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"reason":  domain.ReasonUnauthenticated,
				"message": "missing, expired or invalid credential",
			})
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerKeyFromRequest(r *http.Request) string {
	return callerFromContext(r.Context()).Key()
}

// handleDeliver — GET /v1/{context|prompt}/{name}
func (s *Server) handleDeliver(rtype domain.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &Request{
			Credential: credential(r),
			AgentID:    r.Header.Get(HeaderAgentID),
			Type:       rtype,
			Name:       chi.URLParam(r, "name"),
			TraceID:    TraceIDFromContext(r.Context()),
			Variables:  variablesFromQuery(r),
		}

		s.deliver(w, r, req, r.URL.Query().Get("format"))
	}
}

// rpcEnvelope — JSON-RPC-подобный конверт, эквивалент GET-формы
type rpcEnvelope struct {
	Method string `json:"method"` // "context.get" | "prompt.get"
	Params struct {
		Name        string            `json:"name"`
		SourceAgent string            `json:"sourceAgent"`
		TraceID     string            `json:"traceId"`
		Variables   map[string]string `json:"variables"`
		Format      string            `json:"format"`
	} `json:"params"`
}

// handleInvoke — POST /v1/invoke
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var env rpcEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid envelope"})
		return
	}

	rawType, op, found := strings.Cut(env.Method, ".")
	rtype, err := domain.ParseResourceType(rawType)
	if !found || op != "get" || err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown method"})
		return
	}

	traceID := env.Params.TraceID
	if traceID == "" {
		traceID = TraceIDFromContext(r.Context())
	}

	agentID := env.Params.SourceAgent
	if agentID == "" {
		agentID = r.Header.Get(HeaderAgentID)
	}

	req := &Request{
		Credential: credential(r),
		AgentID:    agentID,
		Type:       rtype,
		Name:       env.Params.Name,
		TraceID:    traceID,
		Variables:  env.Params.Variables,
	}

	s.deliver(w, r, req, env.Params.Format)
}

func (s *Server) deliver(w http.ResponseWriter, r *http.Request, req *Request, format string) {
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "resource name is required"})
		return
	}

	resp, denyErr := s.core.Deliver(r.Context(), req)
	if denyErr != nil {
		s.writeDeny(w, req.TraceID, denyErr)
		return
	}

	s.writeResource(w, resp, format)
}

func (s *Server) handleList(rtype domain.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromContext(r.Context())
		if caller.AgentID == "" {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "sourceAgent is required for list calls"})
			return
		}

		names, err := s.registry.ListLinked(r.Context(), caller.AgentID, rtype)
		if err != nil {
			s.logger.Error("list linked failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "registry unavailable"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"resource_type": rtype,
			"names":         names,
		})
	}
}

type registerRequest struct {
	AgentID string `json:"agent_id"`
	OrgID   string `json:"org_id"`
}

// handleRegister — первый check-in агента (Register-тир).
// Регистрация всегда начинается с Draft; approve делает оператор в консоли.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AgentID == "" || body.OrgID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "agent_id and org_id are required"})
		return
	}

	reg, err := s.registry.RegisterAgent(r.Context(), body.AgentID, body.OrgID)
	if err != nil {
		s.logger.Error("registration failed", zap.String("agent_id", body.AgentID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "registry unavailable"})
		return
	}

	writeJSON(w, http.StatusCreated, reg)
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.LineageFilter{
		AgentID:      q.Get("agent_id"),
		ResourceName: q.Get("resource"),
		TraceID:      q.Get("trace_id"),
	}
	if raw := q.Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		f.Since = ts
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	recs, err := s.reports.Query(r.Context(), f)
	if err != nil {
		s.logger.Error("lineage query failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "lineage store unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"records": recs})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		since = ts
	}

	rows, err := s.reports.Usage(r.Context(), since)
	if err != nil {
		s.logger.Error("usage query failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "lineage store unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"since": since, "usage": rows})
}

// handlePing — Discovery-тир: живость + эхо идентичности.
// Валиден и для аккаунта без привязанного агента.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	caller := callerFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"service_account_id": caller.ServiceAccountID,
		"agent_id":           caller.AgentID,
		"trace_id":           TraceIDFromContext(r.Context()),
	})
}

// --- Сериализация ответов ---

// variablesFromQuery собирает переменные интерполяции из query:
// ?var.region=eu&var.env=prod -> {"region":"eu","env":"prod"}
func variablesFromQuery(r *http.Request) map[string]string {
	vars := make(map[string]string)
	for key, vals := range r.URL.Query() {
		if name, found := strings.CutPrefix(key, "var."); found && len(vals) > 0 {
			vars[name] = vals[0]
		}
	}
	if len(vars) == 0 {
		return nil
	}
	return vars
}

// writeResource рендерит Allowed-ответ в запрошенном формате.
// format — вопрос сериализации, не политики: ядро про него не знает.
func (s *Server) writeResource(w http.ResponseWriter, resp *Response, format string) {
	payload := map[string]interface{}{
		"trace_id":       resp.TraceID,
		"version_id":     resp.VersionID,
		"classification": resp.Classification,
		"content":        resp.Content.AsMap(),
	}

	switch format {
	case "yaml":
		data, err := yaml.Marshal(payload)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "serialization failed"})
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		w.Write(data)

	case "text":
		// Для text отдаем строковое поле "text"/"content", если оно есть;
		// иначе деградируем в JSON
		if txt, ok := textLeaf(resp); ok {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(txt))
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default: // json
		writeJSON(w, http.StatusOK, payload)
	}
}

func textLeaf(resp *Response) (string, bool) {
	for _, field := range []string{"text", "content"} {
		if v, ok := resp.Content.GetFields()[field]; ok {
			if txt := v.GetStringValue(); txt != "" {
				return txt, true
			}
		}
	}
	return "", false
}

func (s *Server) writeDeny(w http.ResponseWriter, traceID string, deny *domain.DenyError) {
	status := http.StatusForbidden
	body := map[string]interface{}{
		"trace_id": traceID,
		"reason":   deny.Reason,
		"message":  deny.Message,
	}

	switch deny.Reason {
	case domain.ReasonUnauthenticated:
		status = http.StatusUnauthorized
	case domain.ReasonNotFound:
		status = http.StatusNotFound
	case domain.ReasonRateLimited:
		status = http.StatusTooManyRequests
		seconds := int(math.Ceil(deny.RetryAfter.Seconds()))
		body["retryAfterSeconds"] = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	case domain.ReasonUnavailable:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
