package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nkiryanov/essaypay/internal/apperrors"
	"github.com/nkiryanov/essaypay/internal/handlers/render"
	"github.com/nkiryanov/essaypay/internal/logger"
	"github.com/nkiryanov/essaypay/internal/models"
)

type accountResponse struct {
	UserID           int64 `json:"user_id"`
	FreeCredits      int64 `json:"free_credits"`
	PurchasedCredits int64 `json:"purchased_credits"`
	Available        int64 `json:"available"`
	LifetimeUses     int64 `json:"lifetime_uses"`
}

func toAccountResponse(a models.Account) accountResponse {
	return accountResponse{
		UserID:           a.UserID,
		FreeCredits:      a.FreeCredits,
		PurchasedCredits: a.PurchasedCredits,
		Available:        a.Available(),
		LifetimeUses:     a.LifetimeUses,
	}
}

// Read {user_id} path value, render 400 if it is not a positive integer
func userIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(r.PathValue("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		render.ServiceError(w, "user_id must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return userID, true
}

func handleEnsureAccount(accountService accountService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromPath(w, r)
		if !ok {
			return
		}

		account, err := accountService.EnsureAccount(r.Context(), userID)
		if err != nil {
			l.Error("Failed to ensure account", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, toAccountResponse(account))
	})
}

func handleGetAccount(accountService accountService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromPath(w, r)
		if !ok {
			return
		}

		account, err := accountService.GetAccount(r.Context(), userID)

		switch {
		case err == nil:
			render.JSON(w, toAccountResponse(account))
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		default:
			l.Error("Failed to get account", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleConsumeCredit(accountService accountService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDFromPath(w, r)
		if !ok {
			return
		}

		account, err := accountService.ConsumeCredit(r.Context(), userID)

		switch {
		case err == nil:
			render.JSON(w, toAccountResponse(account))
		case errors.Is(err, apperrors.ErrNoCreditsLeft):
			render.ServiceError(w, "No credits left", http.StatusPaymentRequired)
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		default:
			l.Error("Failed to consume credit", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
