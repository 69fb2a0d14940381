package server

import (
	"encoding/json"
	"net/http"

	"mirlo/logger"
	"mirlo/model"
	"mirlo/repository"
)

type registerPurchaseRequest struct {
	UserID       int64            `json:"userId"`
	TargetKind   model.TargetKind `json:"targetKind"`
	TargetID     int64            `json:"targetId"`
	PricePaid    int64            `json:"pricePaid"`
	CurrencyPaid string           `json:"currencyPaid"`
	PaymentKey   string           `json:"paymentKey"`
}

// RegisterPurchaseHandler serves POST /api/purchases. It is the
// webhook-shaped entry point that records a completed checkout and returns
// the minted single-use download token. Re-delivery of the same purchase
// rotates the token instead of duplicating the row.
//
// Callers must be authenticated; registering a purchase for another user
// requires the admin flag.
func (h *APIHandler) RegisterPurchaseHandler(w http.ResponseWriter, r *http.Request) {
	callerID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req registerPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.UserID == 0 {
		req.UserID = callerID
	}
	if req.UserID != callerID && !IsAdminFromContext(r.Context()) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if req.TargetKind != model.TargetTrackGroup && req.TargetKind != model.TargetTrack {
		http.Error(w, "Invalid target kind", http.StatusBadRequest)
		return
	}
	if req.TargetID == 0 {
		http.Error(w, "Missing target id", http.StatusBadRequest)
		return
	}
	if req.CurrencyPaid == "" {
		req.CurrencyPaid = "usd"
	}

	purchase, err := h.purchases.Register(r.Context(), repository.RegisterParams{
		UserID:       req.UserID,
		Target:       model.Target{Kind: req.TargetKind, ID: req.TargetID},
		PricePaid:    req.PricePaid,
		CurrencyPaid: req.CurrencyPaid,
		PaymentKey:   req.PaymentKey,
	})
	if err != nil {
		logger.Error("failed to register purchase",
			logger.Int64("userId", req.UserID),
			logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var token string
	if purchase.Token != nil {
		token = *purchase.Token
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"result": map[string]interface{}{
			"purchaseId": purchase.ID,
			"token":      token,
		},
	})
}
