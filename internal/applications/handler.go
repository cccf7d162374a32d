package applications

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tradebridge/backend/internal/ledger"
	"github.com/tradebridge/backend/internal/middleware"
	"github.com/tradebridge/backend/internal/models"
)

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

type applyRequest struct {
	JobID      uuid.UUID `json:"job_id"`
	Message    string    `json:"message"`
	QuoteCents *int64    `json:"quote_cents"`
}

func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.JobID == uuid.Nil {
		http.Error(w, "job_id is required", http.StatusBadRequest)
		return
	}
	app, err := h.svc.Apply(r.Context(), p.UserID, ApplyInput{
		JobID:      req.JobID,
		Message:    req.Message,
		QuoteCents: req.QuoteCents,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (h *Handler) Shortlist(w http.ResponseWriter, r *http.Request) {
	h.ownerDecision(w, r, h.svc.Shortlist)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.ownerDecision(w, r, h.svc.Reject)
}

type decisionFunc func(ctx context.Context, actorID uuid.UUID, actorRole string, applicationID uuid.UUID) (*models.Application, error)

func (h *Handler) ownerDecision(w http.ResponseWriter, r *http.Request, fn decisionFunc) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "applicationID"))
	if err != nil {
		http.Error(w, "invalid application id", http.StatusBadRequest)
		return
	}
	app, err := fn(r.Context(), p.UserID, p.Role, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

type acceptRequest struct {
	StartDate *time.Time `json:"start_date"`
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "applicationID"))
	if err != nil {
		http.Error(w, "invalid application id", http.StatusBadRequest)
		return
	}
	var req acceptRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	var start time.Time
	if req.StartDate != nil {
		start = *req.StartDate
	}
	app, err := h.svc.Accept(r.Context(), p.UserID, p.Role, id, start)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "applicationID"))
	if err != nil {
		http.Error(w, "invalid application id", http.StatusBadRequest)
		return
	}
	app, err := h.svc.Withdraw(r.Context(), p.UserID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// ListForJob serves the job owner's view and marks pending
// applications as viewed as a side effect.
func (h *Handler) ListForJob(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	apps, err := h.svc.ListForJob(r.Context(), p.UserID, p.Role, jobID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	apps, err := h.svc.ListMine(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrJobNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrDuplicateApplication):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrJobNotOpen), errors.Is(err, ErrInvalidStatus):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrInsufficientCredits):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	default:
		h.log.Error("application request failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
