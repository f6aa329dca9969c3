package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sandarb-io/gateway/internal/console/service"
	"github.com/sandarb-io/gateway/internal/domain"
)

type LineageHandler struct {
	service *service.LineageService
}

func NewLineageHandler(s *service.LineageService) *LineageHandler {
	return &LineageHandler{service: s}
}

// GetRecords возвращает записи леджера с поддержкой фильтрации
// GET /v1/lineage?agent_id=...&resource=...&trace_id=...&since=...&limit=...&offset=...
func (h *LineageHandler) GetRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.LineageFilter{
		AgentID:      q.Get("agent_id"),
		ResourceName: q.Get("resource"),
		TraceID:      q.Get("trace_id"),
	}
	if raw := q.Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		f.Since = ts
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	recs, err := h.service.FetchRecords(r.Context(), f)
	if err != nil {
		http.Error(w, "Failed to fetch lineage records", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

// GetUsage — агрегат решений по агентам
// GET /v1/reports/usage?since=...
func (h *LineageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = ts
	}

	rows, err := h.service.FetchUsage(r.Context(), since)
	if err != nil {
		http.Error(w, "Failed to fetch usage report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}
