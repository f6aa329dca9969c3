package handler

import (
	"encoding/json"
	"net/http"

	"github.com/sandarb-io/gateway/internal/console/service"
	"github.com/sandarb-io/gateway/internal/domain"
	"go.uber.org/zap"
)

type LinkHandler struct {
	service *service.AgentService
	logger  *zap.Logger
}

func NewLinkHandler(s *service.AgentService, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{service: s, logger: logger.Named("link-handler")}
}

type linkRequest struct {
	AgentID      string `json:"agent_id"`
	ResourceType string `json:"resource_type"`
	ResourceName string `json:"resource_name"`
}

func (req *linkRequest) toDomain() (domain.ResourceLink, bool) {
	rtype, err := domain.ParseResourceType(req.ResourceType)
	if err != nil || req.AgentID == "" || req.ResourceName == "" {
		return domain.ResourceLink{}, false
	}
	return domain.ResourceLink{
		AgentID:      req.AgentID,
		ResourceType: rtype,
		ResourceName: req.ResourceName,
	}, true
}

// Create выдает грант агент->ресурс
// POST /v1/links
func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	link, ok := req.toDomain()
	if !ok {
		http.Error(w, "agent_id, resource_type and resource_name are required", http.StatusBadRequest)
		return
	}

	if err := h.service.CreateLink(r.Context(), link); err != nil {
		h.logger.Error("link create failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// Delete отзывает грант
// DELETE /v1/links
func (h *LinkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	link, ok := req.toDomain()
	if !ok {
		http.Error(w, "agent_id, resource_type and resource_name are required", http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteLink(r.Context(), link); err != nil {
		h.logger.Error("link delete failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
