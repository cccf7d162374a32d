package billing

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tradebridge/backend/internal/middleware"
)

type Handler struct {
	gateway *Gateway
	log     *slog.Logger
}

func NewHandler(gateway *Gateway, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{gateway: gateway, log: log}
}

// GET /api/v1/billing/packages
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packages": Packages})
}

type createIntentRequest struct {
	PackageID string `json:"package_id"`
}

type createIntentResponse struct {
	PaymentRef   string `json:"payment_ref"`
	ClientSecret string `json:"client_secret"`
	Credits      int    `json:"credits"`
	PriceCents   int64  `json:"price_cents"`
}

// POST /api/v1/billing/intents
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	intent, pkg, err := h.gateway.CreateIntent(r.Context(), p.UserID, req.PackageID)
	if err != nil {
		if PackageByID(req.PackageID) == nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error("create intent failed", "error", err)
		http.Error(w, "payment processor unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, createIntentResponse{
		PaymentRef:   intent.Ref,
		ClientSecret: intent.ClientSecret,
		Credits:      pkg.Credits,
		PriceCents:   pkg.PriceCents,
	})
}

type confirmRequest struct {
	PaymentRef string `json:"payment_ref"`
}

type confirmResponse struct {
	Credits          int    `json:"credits"`
	AlreadyProcessed bool   `json:"already_processed"`
	TransactionID    string `json:"transaction_id"`
}

// POST /api/v1/billing/confirm
// Replays of an already-confirmed payment return 200 with
// already_processed set; the caller cannot tell a retry from a
// duplicate click, and neither should fail.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PaymentRef == "" {
		http.Error(w, "payment_ref is required", http.StatusBadRequest)
		return
	}
	result, err := h.gateway.Confirm(r.Context(), req.PaymentRef, p.UserID)
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, ErrPaymentNotSucceeded):
			http.Error(w, err.Error(), http.StatusPaymentRequired)
		case errors.Is(err, ErrOwnerMismatch):
			http.Error(w, err.Error(), http.StatusForbidden)
		default:
			h.log.Error("confirm payment failed", "error", err, "payment_ref", req.PaymentRef)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{
		Credits:          result.Credits,
		AlreadyProcessed: result.AlreadyProcessed,
		TransactionID:    result.Transaction.ID.String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
