package calllog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

type reader interface {
	Get(ctx context.Context, callSID string) (*CallLog, error)
	List(ctx context.Context, clinicID string, page, limit int) (Page, error)
}

// Handler serves call logs to the staff dashboard.
type Handler struct {
	store  reader
	logger *logging.Logger
}

func NewHandler(store reader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes mounts call log endpoints. Expected under /admin.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/clinics/{clinicID}/call-logs", h.list)
	r.Get("/call-logs/{callSid}", h.get)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.store.List(r.Context(), clinicID, page, limit)
	if err != nil {
		h.logger.Error("calllog handler: list", "clinic_id", clinicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"calls":   result.Calls,
		"pagination": map[string]int{
			"page":       result.Page,
			"limit":      result.Limit,
			"total":      result.Total,
			"totalPages": result.TotalPages,
		},
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	callSID := chi.URLParam(r, "callSid")
	c, err := h.store.Get(r.Context(), callSID)
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "call not found"})
		return
	case err != nil:
		h.logger.Error("calllog handler: get", "call_sid", callSID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "call": c})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
