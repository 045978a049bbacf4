package calllog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	calls     map[string]*CallLog
	listErr   error
	lastPage  int
	lastLimit int
}

func (f *fakeReader) Get(_ context.Context, callSID string) (*CallLog, error) {
	if c, ok := f.calls[callSID]; ok {
		return c, nil
	}
	return nil, ErrNotFound
}

func (f *fakeReader) List(_ context.Context, clinicID string, page, limit int) (Page, error) {
	f.lastPage, f.lastLimit = page, limit
	if f.listErr != nil {
		return Page{}, f.listErr
	}
	out := Page{Calls: []CallLog{}, Page: 1, Limit: 20}
	for _, c := range f.calls {
		if c.ClinicID == clinicID {
			out.Calls = append(out.Calls, *c)
		}
	}
	out.Total = len(out.Calls)
	out.TotalPages = 1
	return out, nil
}

func newTestRouter(store reader) http.Handler {
	r := chi.NewRouter()
	r.Route("/admin", NewHandler(store, nil).RegisterRoutes)
	return r
}

func TestHandler_List(t *testing.T) {
	store := &fakeReader{calls: map[string]*CallLog{
		"CA1": {CallSID: "CA1", ClinicID: "clinic-1", Status: StatusCompleted, Transcript: []string{}},
	}}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/clinics/clinic-1/call-logs?page=2&limit=5", nil)
	newTestRouter(store).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, store.lastPage)
	assert.Equal(t, 5, store.lastLimit)

	var body struct {
		Success    bool           `json:"success"`
		Calls      []CallLog      `json:"calls"`
		Pagination map[string]int `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Success)
	require.Len(t, body.Calls, 1)
	assert.Equal(t, "CA1", body.Calls[0].CallSID)
	assert.Equal(t, 1, body.Pagination["total"])
}

func TestHandler_ListError(t *testing.T) {
	store := &fakeReader{listErr: errors.New("db down")}
	rec := httptest.NewRecorder()
	newTestRouter(store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/clinics/clinic-1/call-logs", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandler_Get(t *testing.T) {
	store := &fakeReader{calls: map[string]*CallLog{
		"CA1": {CallSID: "CA1", ClinicID: "clinic-1", Status: StatusBusy},
	}}
	router := newTestRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/call-logs/CA1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"busy"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/call-logs/CA404", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
