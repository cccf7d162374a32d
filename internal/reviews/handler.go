package reviews

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tradebridge/backend/internal/middleware"
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

type createRequest struct {
	JobID   uuid.UUID `json:"job_id"`
	Rating  int       `json:"rating"`
	Comment string    `json:"comment"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.JobID == uuid.Nil {
		http.Error(w, "job_id is required", http.StatusBadRequest)
		return
	}
	rv, err := h.svc.Create(r.Context(), p.UserID, req.JobID, req.Rating, req.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

// ListForTradesperson is public: prospective customers read reviews
// before posting a job.
func (h *Handler) ListForTradesperson(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tradespersonID"))
	if err != nil {
		http.Error(w, "invalid tradesperson id", http.StatusBadRequest)
		return
	}
	list, err := h.svc.ListForTradesperson(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	rating, err := h.svc.RatingFor(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": list, "rating": rating})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrJobNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrDuplicateReview), errors.Is(err, ErrJobNotCompleted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalidRating):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.Error("review request failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
