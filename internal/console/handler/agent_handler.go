package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sandarb-io/gateway/internal/console/service"
	"github.com/sandarb-io/gateway/internal/domain"
	"github.com/sandarb-io/gateway/internal/infra/auth"
	"go.uber.org/zap"
)

type AgentHandler struct {
	service *service.AgentService
	logger  *zap.Logger
}

func NewAgentHandler(s *service.AgentService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{service: s, logger: logger.Named("agent-handler")}
}

// List — очередь решений оператора
// GET /v1/agents?status=PENDING_APPROVAL
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	// Приводим к верхнему регистру, так как константы статусов — PENDING_APPROVAL и т.д.
	status := strings.ToUpper(r.URL.Query().Get("status"))

	regs, err := h.service.ListAgents(r.Context(), domain.ApprovalStatus(status))
	if err != nil {
		http.Error(w, "Failed to fetch agents", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(regs)
}

// Get — детали регистрации агента
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	reg, err := h.service.GetAgent(r.Context(), agentID)
	if err != nil {
		http.Error(w, "Failed to fetch agent", http.StatusInternalServerError)
		return
	}
	if reg == nil {
		http.Error(w, "Agent not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reg)
}

// Submit переводит Draft-регистрацию в очередь ревью
// POST /v1/agents/{id}/submit
func (h *AgentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if agentID == "" {
		http.Error(w, "agent id is required", http.StatusBadRequest)
		return
	}

	if err := h.service.SubmitForReview(r.Context(), agentID); err != nil {
		h.logger.Error("submit failed", zap.String("agent_id", agentID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type decideRequest struct {
	Approved bool `json:"approved"`
}

// Decide — Approve/Reject + Redis Publish
// POST /v1/agents/{id}/decide
func (h *AgentHandler) Decide(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if agentID == "" {
		http.Error(w, "agent id is required", http.StatusBadRequest)
		return
	}

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Решение привязываем к оператору из токена
	reviewerID := auth.UserIDFromContext(r.Context())

	// Ждем завершения и БД, и сигнала: молчаливо потерянное решение
	// оставило бы кэши шлюзов со старым статусом
	if err := h.service.DecideApproval(r.Context(), agentID, req.Approved, reviewerID); err != nil {
		h.logger.Error("decision failed", zap.String("agent_id", agentID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
