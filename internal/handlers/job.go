package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/quantello/marketsync/internal/models"
	"github.com/quantello/marketsync/internal/repository"
	"github.com/quantello/marketsync/internal/sync"
	"github.com/rs/zerolog"
)

// JobHandler exposes the runner over HTTP: one synchronous call per
// invocation, safe to repeat, returning either a final result or a
// continuation token.
type JobHandler struct {
	runner *sync.Runner
	runs   repository.RunRepository
	beats  repository.HeartbeatRepository
	logger zerolog.Logger
}

func NewJobHandler(runner *sync.Runner, runs repository.RunRepository, beats repository.HeartbeatRepository, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		runner: runner,
		runs:   runs,
		beats:  beats,
		logger: logger.With().Str("component", "job_handler").Logger(),
	}
}

type runJobRequest struct {
	TargetDate        string `json:"target_date,omitempty"`
	ContinuationToken string `json:"continuation_token,omitempty"`
}

func (h *JobHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	jobName := mux.Vars(r)["jobName"]

	var payload runJobRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "Invalid request payload", http.StatusBadRequest)
			return
		}
	}

	params := sync.RunParams{JobName: jobName, ContinuationToken: payload.ContinuationToken}
	if payload.TargetDate != "" {
		date, err := time.Parse(models.DateLayout, payload.TargetDate)
		if err != nil {
			http.Error(w, "Invalid target_date, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		params.TargetDate = &date
	}

	result := h.runner.RunJob(r.Context(), params)

	status := http.StatusOK
	if !result.Success && !result.Skipped {
		status = http.StatusUnprocessableEntity
	}
	if result.Skipped && !result.Success {
		// Lease held elsewhere; the caller may simply try again later.
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(result)
}

func (h *JobHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runID"]
	run, err := h.runs.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, "Run not found: "+err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

func (h *JobHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	// parse query params with defaults
	limit := 20
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil {
			offset = v
		}
	}

	runs, err := h.runs.ListRuns(r.Context(), r.URL.Query().Get("job"), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

// ListHeartbeats is the staleness read path for external alerting.
func (h *JobHandler) ListHeartbeats(w http.ResponseWriter, r *http.Request) {
	beats, err := h.beats.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(beats)
}
