package clinic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// BookingAttemptsMetric is the counter family the dashboard summarises.
const BookingAttemptsMetric = "clinicbooking_booking_attempts_total"

type dashboardDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type dashboardRepo interface {
	AppointmentsByDay(ctx context.Context, clinicID string, start, end time.Time) ([]DayCount, error)
}

// DayCount captures appointment volume for one calendar day.
type DayCount struct {
	Day       time.Time        `json:"-"`
	DayLabel  string           `json:"day"`
	Booked    int64            `json:"booked"`
	Cancelled int64            `json:"cancelled"`
	ByChannel map[string]int64 `json:"by_channel,omitempty"`
}

// Dashboard is the JSON body of the clinic dashboard endpoint.
type Dashboard struct {
	ClinicID        string           `json:"clinic_id"`
	PeriodStart     string           `json:"period_start"`
	PeriodEnd       string           `json:"period_end"`
	Booked          int64            `json:"booked"`
	Cancelled       int64            `json:"cancelled"`
	CancellationPct float64          `json:"cancellation_pct"`
	ByChannel       map[string]int64 `json:"by_channel"`
	BookingOutcomes map[string]int64 `json:"booking_outcomes"`
	Daily           []DayCount       `json:"daily"`
}

// DashboardRepository aggregates appointment figures in Postgres.
type DashboardRepository struct {
	db dashboardDB
}

func NewDashboardRepository(db dashboardDB) *DashboardRepository {
	if db == nil {
		panic("clinic: db required for dashboard")
	}
	return &DashboardRepository{db: db}
}

// AppointmentsByDay groups appointments created in [start, end) by day and channel.
func (r *DashboardRepository) AppointmentsByDay(ctx context.Context, clinicID string, start, end time.Time) ([]DayCount, error) {
	clinicID = strings.TrimSpace(clinicID)
	if clinicID == "" {
		return nil, fmt.Errorf("clinic dashboard: clinic_id required")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("clinic dashboard: invalid time range")
	}

	rows, err := r.db.Query(ctx, `
		SELECT date_trunc('day', created_at) AS day,
		       created_via,
		       COUNT(*) FILTER (WHERE status = 'confirmed') AS booked,
		       COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled
		FROM appointments
		WHERE clinic_id = $1
		  AND created_at >= $2
		  AND created_at < $3
		GROUP BY day, created_via
		ORDER BY day`, clinicID, start, end)
	if err != nil {
		return nil, fmt.Errorf("clinic dashboard: query appointments: %w", err)
	}
	defer rows.Close()

	byDay := map[string]*DayCount{}
	var order []string
	for rows.Next() {
		var day time.Time
		var channel string
		var booked, cancelled int64
		if err := rows.Scan(&day, &channel, &booked, &cancelled); err != nil {
			return nil, fmt.Errorf("clinic dashboard: scan appointments: %w", err)
		}
		label := day.UTC().Format("2006-01-02")
		dc, ok := byDay[label]
		if !ok {
			dc = &DayCount{Day: day.UTC(), DayLabel: label, ByChannel: map[string]int64{}}
			byDay[label] = dc
			order = append(order, label)
		}
		dc.Booked += booked
		dc.Cancelled += cancelled
		dc.ByChannel[channel] += booked + cancelled
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic dashboard: iterate appointments: %w", err)
	}

	out := make([]DayCount, 0, len(order))
	for _, label := range order {
		out = append(out, *byDay[label])
	}
	return out, nil
}

// DashboardHandler serves per-clinic booking figures.
type DashboardHandler struct {
	repo     dashboardRepo
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

func NewDashboardHandler(repo dashboardRepo, gatherer prometheus.Gatherer, logger *logging.Logger) *DashboardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &DashboardHandler{repo: repo, gatherer: gatherer, logger: logger}
}

// GetDashboard returns clinic booking figures.
// GET /admin/clinics/{clinicID}/dashboard
// Query params:
//   - start, end: RFC3339 timestamps (both or neither)
//   - days: integer window (default 7) when start/end omitted
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	clinicID := chi.URLParam(r, "clinicID")
	if strings.TrimSpace(clinicID) == "" {
		writeError(w, http.StatusBadRequest, "clinic_id required")
		return
	}
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "dashboard disabled (db not configured)")
		return
	}

	start, end, err := parseDashboardWindow(r, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	days, err := h.repo.AppointmentsByDay(r.Context(), clinicID, start, end)
	if err != nil {
		h.logger.Error("failed to query dashboard", "clinic_id", clinicID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	days = fillMissingDays(days, start, end)

	resp := Dashboard{
		ClinicID:        clinicID,
		PeriodStart:     start.UTC().Format(time.RFC3339),
		PeriodEnd:       end.UTC().Format(time.RFC3339),
		ByChannel:       map[string]int64{},
		BookingOutcomes: snapshotOutcomes(h.gatherer),
		Daily:           days,
	}
	for _, d := range days {
		resp.Booked += d.Booked
		resp.Cancelled += d.Cancelled
		for ch, n := range d.ByChannel {
			resp.ByChannel[ch] += n
		}
	}
	if total := resp.Booked + resp.Cancelled; total > 0 {
		resp.CancellationPct = float64(resp.Cancelled) / float64(total) * 100.0
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func parseDashboardWindow(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	q := r.URL.Query()

	startRaw := strings.TrimSpace(q.Get("start"))
	endRaw := strings.TrimSpace(q.Get("end"))
	if (startRaw == "") != (endRaw == "") {
		return time.Time{}, time.Time{}, fmt.Errorf("both start and end must be provided, or neither")
	}
	if startRaw != "" {
		start, err := time.Parse(time.RFC3339, startRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start time, use RFC3339 format")
		}
		end, err := time.Parse(time.RFC3339, endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end time, use RFC3339 format")
		}
		if !end.After(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
		}
		return start.UTC(), end.UTC(), nil
	}

	days := 7
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 90 {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid days; must be 1-90")
		}
		days = parsed
	}

	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, 0, -days), end, nil
}

func fillMissingDays(existing []DayCount, start, end time.Time) []DayCount {
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	lookup := make(map[string]DayCount, len(existing))
	for _, d := range existing {
		lookup[d.DayLabel] = d
	}

	var out []DayCount
	for day := startDay; day.Before(endDay); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		if found, ok := lookup[key]; ok {
			out = append(out, found)
			continue
		}
		out = append(out, DayCount{Day: day, DayLabel: key})
	}
	return out
}

// snapshotOutcomes sums the booking attempt counter by its outcome label.
func snapshotOutcomes(gatherer prometheus.Gatherer) map[string]int64 {
	out := map[string]int64{}
	mfs, err := gatherer.Gather()
	if err != nil {
		return out
	}
	for _, mf := range mfs {
		if mf == nil || mf.GetName() != BookingAttemptsMetric {
			continue
		}
		for _, metric := range mf.Metric {
			if metric == nil || metric.GetCounter() == nil {
				continue
			}
			out[labelValue(metric, "outcome")] += int64(metric.GetCounter().GetValue())
		}
	}
	return out
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
