package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yofarm-hub/ussd/internal/payment"
	"github.com/yofarm-hub/ussd/internal/store"
	"github.com/yofarm-hub/ussd/internal/ussd"
	"github.com/yofarm-hub/ussd/types"
)

// UserLookup finds a user record by phone number.
type UserLookup interface {
	GetByPhone(ctx context.Context, phone string) (types.User, error)
}

// TransactionLookup queries the provider for a transaction.
type TransactionLookup interface {
	TransactionStatus(ctx context.Context, txID string) (types.TransactionStatus, error)
}

// AdminHandler serves operator lookups.
type AdminHandler struct {
	users    UserLookup
	payments TransactionLookup
}

func NewAdminHandler(users UserLookup, payments TransactionLookup) *AdminHandler {
	return &AdminHandler{users: users, payments: payments}
}

// AdminRouter registers operator routes behind authMiddleware.
func AdminRouter(r chi.Router, users UserLookup, payments TransactionLookup, authMiddleware func(http.Handler) http.Handler) {
	handler := NewAdminHandler(users, payments)

	r.Group(func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}
		r.Get("/users/{phone}", handler.GetUser)
		r.Get("/payments/{transactionID}", handler.GetPaymentStatus)
	})
}

func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByPhone(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		switch {
		case errors.Is(err, ussd.ErrInvalidMSISDN):
			writeError(w, http.StatusBadRequest, "invalid phone number")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to load user")
		}
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AdminHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "transactionID")
	if txID == "" {
		writeError(w, http.StatusBadRequest, "missing transaction id")
		return
	}

	status, err := h.payments.TransactionStatus(r.Context(), txID)
	if err != nil {
		if errors.Is(err, payment.ErrServiceUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "payment provider unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to check payment status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
