package reminders

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

type dashboardStore interface {
	ListByClinic(ctx context.Context, clinicID string, status Status, limit int) ([]Reminder, error)
	Stats(ctx context.Context, clinicID string) (*Stats, error)
}

// Handler exposes reminder status to the staff dashboard.
type Handler struct {
	store  dashboardStore
	logger *logging.Logger
}

func NewHandler(store dashboardStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes mounts reminder endpoints. Expected under /admin.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/clinics/{clinicID}/reminders", h.listReminders)
	r.Get("/clinics/{clinicID}/reminders/stats", h.getStats)
}

func (h *Handler) listReminders(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.store.ListByClinic(r.Context(), clinicID, Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.logger.Error("reminders handler: list", "clinic_id", clinicID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"reminders": list,
		"count":     len(list),
	})
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	stats, err := h.store.Stats(r.Context(), clinicID)
	if err != nil {
		h.logger.Error("reminders handler: stats", "clinic_id", clinicID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}
