package booking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-assistant/internal/availability"
	"github.com/wolfman30/clinic-booking-assistant/internal/session"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

type dashboardService interface {
	CreateAppointment(ctx context.Context, req Request) (Result, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, clinicID string, f ListFilter) (Page, error)
	GetAvailableSlots(ctx context.Context, clinicID, date string) ([]string, error)
}

// Handler provides the appointment endpoints of the staff dashboard.
type Handler struct {
	svc    dashboardService
	logger *logging.Logger
}

func NewHandler(svc dashboardService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts appointment endpoints. Expected under /admin.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/clinics/{clinicID}/appointments", h.listAppointments)
	r.Post("/clinics/{clinicID}/appointments", h.createAppointment)
	r.Get("/clinics/{clinicID}/slots", h.availableSlots)
	r.Get("/appointments/{appointmentID}", h.getAppointment)
	r.Delete("/appointments/{appointmentID}", h.cancelAppointment)
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := h.svc.ListAppointments(r.Context(), clinicID, ListFilter{
		Status: Status(q.Get("status")),
		Date:   q.Get("date"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		h.logger.Error("booking handler: list appointments", "clinic_id", clinicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"appointments": result.Appointments,
		"pagination": map[string]int{
			"page":       result.Page,
			"limit":      result.Limit,
			"total":      result.Total,
			"totalPages": result.TotalPages,
		},
	})
}

type createAppointmentBody struct {
	PatientName  string `json:"patientName"`
	PatientPhone string `json:"patientPhone"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	Language     string `json:"language"`
	Notes        string `json:"notes"`
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	var body createAppointmentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON body"})
		return
	}

	res, err := h.svc.CreateAppointment(r.Context(), Request{
		ClinicID:     clinicID,
		PatientName:  body.PatientName,
		PatientPhone: body.PatientPhone,
		Date:         body.Date,
		Time:         body.Time,
		Language:     session.ParseLanguage(body.Language),
		Channel:      session.ChannelDashboard,
		Notes:        body.Notes,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) || errors.Is(err, availability.ErrInvalidDate) || errors.Is(err, availability.ErrInvalidTime) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
			return
		}
		h.logger.Error("booking handler: create appointment", "clinic_id", clinicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) availableSlots(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "date is required"})
		return
	}

	slots, err := h.svc.GetAvailableSlots(r.Context(), clinicID, date)
	if err != nil {
		if errors.Is(err, availability.ErrInvalidDate) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
			return
		}
		h.logger.Error("booking handler: available slots", "clinic_id", clinicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "date": date, "slots": slots})
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.appointmentID(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "appointment": appt})
}

func (h *Handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.appointmentID(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Reason == "" {
		body.Reason = "cancelled from dashboard"
	}

	appt, err := h.svc.CancelAppointment(r.Context(), id, body.Reason)
	if err != nil {
		h.writeLookupError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "appointment": appt})
}

func (h *Handler) appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid appointment id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeLookupError(w http.ResponseWriter, id uuid.UUID, err error) {
	if errors.Is(err, ErrAppointmentNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "appointment not found"})
		return
	}
	h.logger.Error("booking handler: appointment lookup", "appointment_id", id, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
