// Package dashboard serves the authenticated account views: who am I,
// what is my balance, what has my money done.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tradebridge/backend/internal/middleware"
	"github.com/tradebridge/backend/internal/models"
)

type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type AccountStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
}

type LedgerHistory interface {
	History(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

type TransactionStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Transaction, error)
}

type Handler struct {
	users        UserStore
	accounts     AccountStore
	ledger       LedgerHistory
	transactions TransactionStore
	log          *slog.Logger
}

func NewHandler(users UserStore, accounts AccountStore, ledger LedgerHistory, transactions TransactionStore, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{users: users, accounts: accounts, ledger: ledger, transactions: transactions, log: log}
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	user, err := h.users.GetByID(r.Context(), p.UserID)
	if err != nil {
		h.log.Error("get user failed", "error", err)
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// GET /api/v1/account/credits
// Tradespeople only; customers have no credit account.
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	account, err := h.accounts.Get(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "no credit account", http.StatusNotFound)
			return
		}
		h.log.Error("get credit account failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	history, err := h.ledger.History(r.Context(), p.UserID, limitParam(r))
	if err != nil {
		h.log.Error("ledger history failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": account.Available,
		"spent":     account.Spent,
		"history":   history,
	})
}

// GET /api/v1/account/transactions
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromCtx(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.transactions.ListByUser(r.Context(), p.UserID, limitParam(r))
	if err != nil {
		h.log.Error("list transactions failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": list})
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
