package escrow

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/noveletta/backend/internal/ledger"
	"github.com/noveletta/backend/internal/middleware"
	"github.com/noveletta/backend/internal/models"
)

type CreateJobRequest struct {
	Title  string `json:"title"`
	Budget int64  `json:"budget"`
}

type JobResponse struct {
	ID           string  `json:"id"`
	ClientID     string  `json:"client_id"`
	FreelancerID *string `json:"freelancer_id,omitempty"`
	Title        string  `json:"title"`
	Budget       int64   `json:"budget"`
	Status       string  `json:"status"`
	EscrowLocked bool    `json:"escrow_locked"`
}

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// CreateJob handles POST /api/v1/jobs.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.Budget <= 0 {
		http.Error(w, `{"error":"missing or invalid required fields"}`, http.StatusBadRequest)
		return
	}
	job, err := h.svc.CreateJob(r.Context(), id.AccountID, req.Title, req.Budget)
	if err != nil {
		h.log.Error("create job failed", "error", err)
		http.Error(w, `{"error":"create job failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, jobToResponse(job))
}

// ListJobs handles GET /api/v1/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListByClient(r.Context(), id.AccountID)
	if err != nil {
		h.log.Error("list jobs failed", "error", err)
		http.Error(w, `{"error":"list jobs failed"}`, http.StatusInternalServerError)
		return
	}
	resp := make([]JobResponse, 0, len(list))
	for _, j := range list {
		resp = append(resp, jobToResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Action handles POST /api/v1/jobs/{id}/{action} for the lifecycle actions:
// accept, lock-escrow, submit, confirm, dispute, cancel. Each validates the
// current state and returns the job's new status.
func (h *Handler) Action(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}

	var job *models.Job
	switch r.PathValue("action") {
	case "accept":
		job, err = h.svc.AcceptJob(r.Context(), jobID, id.AccountID)
	case "lock-escrow":
		job, err = h.svc.LockEscrow(r.Context(), jobID, id.AccountID)
	case "submit":
		job, err = h.svc.SubmitWork(r.Context(), jobID, id.AccountID)
	case "confirm":
		job, err = h.svc.ConfirmCompletion(r.Context(), jobID, id.AccountID, id.Role)
	case "dispute":
		job, err = h.svc.OpenDispute(r.Context(), jobID, id.AccountID)
	case "cancel":
		job, err = h.svc.CancelJob(r.Context(), jobID, id.AccountID, id.Role)
	default:
		http.Error(w, `{"error":"unknown job action"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrJobNotFound):
			http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		case errors.Is(err, ErrNotParticipant):
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		case errors.Is(err, ErrInvalidStateTransition):
			http.Error(w, `{"error":"invalid state transition"}`, http.StatusConflict)
		case errors.Is(err, ledger.ErrInsufficientBalance):
			http.Error(w, `{"error":"insufficient balance"}`, http.StatusPaymentRequired)
		default:
			h.log.Error("job action failed", "job_id", jobID, "error", err)
			http.Error(w, `{"error":"job action failed"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(job))
}

func jobToResponse(j *models.Job) JobResponse {
	resp := JobResponse{
		ID:           j.ID.String(),
		ClientID:     j.ClientID.String(),
		Title:        j.Title,
		Budget:       j.Budget,
		Status:       j.Status,
		EscrowLocked: j.EscrowLocked,
	}
	if j.FreelancerID != nil {
		s := j.FreelancerID.String()
		resp.FreelancerID = &s
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
