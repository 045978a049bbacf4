package conversation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// JobHandler exposes queued turn status to operators.
type JobHandler struct {
	jobs   JobRecorder
	logger *logging.Logger
}

func NewJobHandler(jobs JobRecorder, logger *logging.Logger) *JobHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &JobHandler{jobs: jobs, logger: logger}
}

// GetJob handles GET /admin/jobs/{jobID}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id required"})
		return
	}
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, ErrJobNotFound) {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch job", "job_id", jobID, "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch job"})
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
