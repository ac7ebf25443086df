package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/nkiryanov/essaypay/internal/apperrors"
	"github.com/nkiryanov/essaypay/internal/handlers/clientctx"
	"github.com/nkiryanov/essaypay/internal/handlers/render"
	"github.com/nkiryanov/essaypay/internal/logger"
	"github.com/nkiryanov/essaypay/internal/models"
	"github.com/nkiryanov/essaypay/internal/service/purchase"
)

type purchaseResponse struct {
	ExternalID  string  `json:"external_id"`
	State       string  `json:"state"`
	StateCode   int     `json:"state_code"`
	Amount      int64   `json:"amount"`
	Sum         float64 `json:"sum"`
	Credits     int64   `json:"credits"`
	CreateTime  int64   `json:"create_time"`
	PerformTime int64   `json:"perform_time,omitempty"`
	CancelTime  int64   `json:"cancel_time,omitempty"`
	Outcome     string  `json:"outcome,omitempty"`
}

func toPurchaseResponse(t models.Transaction) purchaseResponse {
	sum, _ := t.Sum().Float64()
	return purchaseResponse{
		ExternalID:  t.ExternalID,
		State:       t.State.String(),
		StateCode:   int(t.State),
		Amount:      t.Amount,
		Sum:         sum,
		Credits:     t.Credits,
		CreateTime:  t.CreateTime,
		PerformTime: t.PerformTime,
		CancelTime:  t.CancelTime,
	}
}

func handleBeginPurchase(purchaseService purchaseService, l logger.Logger) http.Handler {
	type request struct {
		UserID  int64 `json:"user_id" validate:"gt=0"`
		Credits int64 `json:"credits" validate:"gt=0"`
	}

	type response struct {
		ExternalID string  `json:"external_id"`
		PayURL     string  `json:"pay_url"`
		Amount     int64   `json:"amount"`
		Sum        float64 `json:"sum"`
		Credits    int64   `json:"credits"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		p, err := purchaseService.BeginPurchase(r.Context(), req.UserID, req.Credits)

		switch {
		case err == nil:
			client, _ := clientctx.FromContext(r.Context())
			l.Info("Purchase opened", "client", client, "external_id", p.ExternalID, "user_id", req.UserID)

			sum, _ := p.Sum.Float64()
			render.JSON(w, response{p.ExternalID, p.PayURL, p.Amount, sum, p.Credits})
		case errors.Is(err, apperrors.ErrAccountNotFound):
			render.ServiceError(w, "Account not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrInvalidAmount):
			render.ServiceError(w, "Credits can't be bought", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrGatewayUnavailable):
			l.Warn("Gateway refused to open invoice", "user_id", req.UserID, "error", err)
			render.ServiceError(w, "Payment gateway unavailable", http.StatusBadGateway)
		default:
			l.Error("Failed to begin purchase", "user_id", req.UserID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

// GET /api/purchases/{external_id}
//
//	?reconcile=true asks the gateway once
//	?wait=true polls the gateway until the purchase settles or attempts run out
func handleGetPurchase(purchaseService purchaseService, poll PollConfig, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		externalID := r.PathValue("external_id")
		if err := render.Validate.Var(externalID, "external_id"); err != nil {
			render.ServiceError(w, "Invalid external_id", http.StatusBadRequest)
			return
		}

		query := r.URL.Query()
		reconcile, _ := strconv.ParseBool(query.Get("reconcile"))
		wait, _ := strconv.ParseBool(query.Get("wait"))

		var (
			t       models.Transaction
			outcome purchase.Outcome
			err     error
		)

		switch {
		case wait:
			var result purchase.PollResult
			result, err = purchaseService.PollUntilSettled(r.Context(), externalID, poll.Interval, poll.MaxAttempts)
			t, outcome = result.Transaction, result.Outcome
		case reconcile:
			t, err = purchaseService.Reconcile(r.Context(), externalID)
		default:
			t, err = purchaseService.Status(r.Context(), externalID)
		}

		switch {
		case err == nil:
			resp := toPurchaseResponse(t)
			resp.Outcome = string(outcome)
			render.JSON(w, resp)
		case errors.Is(err, apperrors.ErrTransactionNotFound):
			render.ServiceError(w, "Purchase not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrGatewayUnavailable):
			l.Warn("Gateway check failed", "external_id", externalID, "error", err)
			render.ServiceError(w, "Payment gateway unavailable", http.StatusBadGateway)
		case errors.Is(err, context.Canceled):
			// client went away while waiting
		default:
			l.Error("Failed to get purchase", "external_id", externalID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
