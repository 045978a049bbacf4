package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDashboardStore struct {
	clinicID string
	status   Status
	limit    int
	list     []Reminder
	stats    *Stats
	err      error
}

func (s *stubDashboardStore) ListByClinic(_ context.Context, clinicID string, status Status, limit int) ([]Reminder, error) {
	s.clinicID, s.status, s.limit = clinicID, status, limit
	return s.list, s.err
}

func (s *stubDashboardStore) Stats(_ context.Context, clinicID string) (*Stats, error) {
	s.clinicID = clinicID
	return s.stats, s.err
}

func newReminderRouter(store dashboardStore) http.Handler {
	r := chi.NewRouter()
	NewHandler(store, nil).RegisterRoutes(r)
	return r
}

func TestHandlerListsRemindersWithFilters(t *testing.T) {
	store := &stubDashboardStore{list: []Reminder{{ID: uuid.New(), Status: StatusPending}}}

	req := httptest.NewRequest(http.MethodGet, "/clinics/clinic-1/reminders?status=pending&limit=5", nil)
	rec := httptest.NewRecorder()
	newReminderRouter(store).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "clinic-1", store.clinicID)
	assert.Equal(t, StatusPending, store.status)
	assert.Equal(t, 5, store.limit)

	var body struct {
		Reminders []Reminder `json:"reminders"`
		Count     int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Len(t, body.Reminders, 1)
}

func TestHandlerReturnsStats(t *testing.T) {
	store := &stubDashboardStore{stats: &Stats{Pending: 2, Sent: 7, Failed: 1}}

	req := httptest.NewRequest(http.MethodGet, "/clinics/clinic-1/reminders/stats", nil)
	rec := httptest.NewRecorder()
	newReminderRouter(store).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, Stats{Pending: 2, Sent: 7, Failed: 1}, stats)
}

func TestHandlerStoreErrorIs500(t *testing.T) {
	store := &stubDashboardStore{err: errors.New("db down")}

	for _, path := range []string{"/clinics/clinic-1/reminders", "/clinics/clinic-1/reminders/stats"} {
		rec := httptest.NewRecorder()
		newReminderRouter(store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", path, rec.Code)
		}
	}
}
