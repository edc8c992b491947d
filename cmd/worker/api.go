package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/charo360/revo3/repurpose-worker/internal/clients"
	"github.com/charo360/revo3/repurpose-worker/internal/logging"
	"github.com/charo360/revo3/repurpose-worker/internal/models"
	"github.com/charo360/revo3/repurpose-worker/internal/queue"
	"github.com/charo360/revo3/repurpose-worker/internal/storage"
)

// api is the small HTTP surface of service mode: submit, inspect, and
// cancel jobs, plus a health probe.
type api struct {
	queue    *queue.MemoryQueue
	analyzer *clients.AnalyzerClient
	log      zerolog.Logger
}

func newAPI(q *queue.MemoryQueue, analyzer *clients.AnalyzerClient) *api {
	return &api{
		queue:    q,
		analyzer: analyzer,
		log:      logging.WithComponent("api"),
	}
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", a.handleSubmit)
	mux.HandleFunc("GET /jobs/{id}", a.handleStatus)
	mux.HandleFunc("DELETE /jobs/{id}", a.handleCancel)
	mux.HandleFunc("GET /health", a.handleHealth)
	return mux
}

type submitRequest struct {
	UserID     string                       `json:"user_id"`
	SourceURL  string                       `json:"source_url"`
	Transcript string                       `json:"transcript,omitempty"`
	Options    models.ClipGenerationOptions `json:"options"`
}

func (a *api) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceURL == "" {
		writeError(w, http.StatusBadRequest, "source_url is required")
		return
	}

	job := &models.RepurposeJob{
		ID:         models.NewJobID(),
		UserID:     req.UserID,
		SourceURL:  req.SourceURL,
		Transcript: req.Transcript,
		Options:    req.Options,
	}

	if err := a.queue.Enqueue(r.Context(), job); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "queue full, retry later")
			return
		}
		a.log.Error().Err(err).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

type statusResponse struct {
	ID           string           `json:"id"`
	Status       models.JobStatus `json:"status"`
	Progress     int              `json:"progress"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := a.queue.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		a.log.Error().Err(err).Msg("status lookup failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		ID:           job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
	})
}

func (a *api) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := a.queue.Cancel(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	analyzerOK := true
	if err := a.analyzer.HealthCheck(ctx); err != nil {
		analyzerOK = false
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":   http.StatusText(status),
		"analyzer": analyzerOK,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
