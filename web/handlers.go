package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/torresproject/creditd/app"
	"github.com/torresproject/creditd/domain/ledger"
	"github.com/torresproject/creditd/domain/referral"
	"github.com/torresproject/creditd/domain/settlement"
	"github.com/torresproject/creditd/ports"
)

// maxBodyBytes bounds inbound request bodies.
const maxBodyBytes = 64 * 1024

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// webhookRequest is the gateway's payment-confirmation push. Either
// amount or order_ref carries the purchase; both may be present.
type webhookRequest struct {
	PaymentID  string `json:"payment_id"`
	AccountID  string `json:"account_id"`
	PayerEmail string `json:"payer_email,omitempty"`
	Amount     *int64 `json:"amount,omitempty"`
	OrderRef   string `json:"order_ref,omitempty"`
}

// PaymentWebhook ingests a payment confirmation. Duplicate deliveries
// of a settled payment are acknowledged with 200 so the gateway stops
// retrying; that is the contract of at-least-once delivery.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	defer func() {
		h.metrics.WebhookDeliveries.WithLabelValues(strconv.Itoa(ww.Status())).Inc()
	}()
	h.handlePaymentWebhook(ww, r)
}

func (h *Handler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if h.webhookSecret != "" {
		if !verifySignature(body, r.Header.Get("X-Signature"), h.webhookSecret) {
			h.logger.Warn().Msg("webhook signature verification failed")
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	entry, err := h.settlements.Settle(r.Context(), settlement.Confirmation{
		PaymentID:  req.PaymentID,
		AccountID:  req.AccountID,
		PayerEmail: req.PayerEmail,
		Amount:     req.Amount,
		OrderRef:   req.OrderRef,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "settled",
			"credits": entry.Amount,
		})
	case errors.Is(err, settlement.ErrDuplicateEvent):
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
	case errors.Is(err, settlement.ErrSelfPayment):
		writeError(w, http.StatusForbidden, "self payment rejected")
	case errors.Is(err, settlement.ErrUnresolvedAmount):
		writeError(w, http.StatusUnprocessableEntity, "credit amount could not be resolved")
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	default:
		h.logger.Error().Err(err).Str("payment_id", req.PaymentID).Msg("settlement failed")
		writeError(w, http.StatusInternalServerError, "settlement failed")
	}
}

// verifySignature checks an HMAC-SHA256 hex signature over the raw body.
func verifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

type registerRequest struct {
	Email        string `json:"email"`
	ReferralCode string `json:"referral_code,omitempty"`
}

type accountResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	ReferredBy string    `json:"referred_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RegisterAccount creates an account and, if a referral code is given,
// redeems it for the new account. A failed redemption does not undo the
// registration; the outcome is reported alongside.
func (h *Handler) RegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	account, err := h.accounts.Register(r.Context(), req.Email)
	switch {
	case err == nil:
	case errors.Is(err, app.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email already registered")
		return
	case errors.Is(err, app.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	default:
		h.logger.Error().Err(err).Msg("registration failed")
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	resp := map[string]any{
		"account": accountResponse{
			ID:        account.ID,
			Email:     account.Email,
			CreatedAt: account.CreatedAt,
		},
	}

	if req.ReferralCode != "" {
		if err := h.referrals.Redeem(r.Context(), req.ReferralCode, account.ID); err != nil {
			resp["referral"] = map[string]string{
				"status": "rejected",
				"reason": referralRejectReason(err),
			}
		} else {
			resp["referral"] = map[string]string{"status": "redeemed"}
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

func referralRejectReason(err error) string {
	switch {
	case errors.Is(err, referral.ErrCodeNotFound):
		return "not_found"
	case errors.Is(err, referral.ErrAlreadyRedeemed):
		return "already_redeemed"
	case errors.Is(err, referral.ErrSelfReferral):
		return "self_referral"
	case errors.Is(err, referral.ErrAlreadyReferred):
		return "already_referred"
	default:
		return "error"
	}
}

// GetAccount returns an account by id.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	account, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.Error().Err(err).Str("account_id", id).Msg("account lookup failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		ID:         account.ID,
		Email:      account.Email,
		ReferredBy: account.ReferredBy,
		CreatedAt:  account.CreatedAt,
	})
}

// Balance returns the account's available credits.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	balance, err := h.ledger.Balance(r.Context(), id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.Error().Err(err).Str("account_id", id).Msg("balance query failed")
		writeError(w, http.StatusInternalServerError, "balance query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"available_credits": balance})
}

// historyEntry is the outward shape of one ledger row.
type historyEntry struct {
	Type          string     `json:"type"`
	Amount        int64      `json:"amount"`
	BalanceBefore int64      `json:"balance_before"`
	BalanceAfter  int64      `json:"balance_after"`
	Description   string     `json:"description,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// History returns a page of the account's ledger, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, hasMore, err := h.ledger.History(r.Context(), id, limit, offset)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.Error().Err(err).Str("account_id", id).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}

	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			Type:          string(e.Type),
			Amount:        e.Amount,
			BalanceBefore: e.BalanceBefore,
			BalanceAfter:  e.BalanceAfter,
			Description:   e.Description,
			ExpiresAt:     e.ExpiresAt,
			CreatedAt:     e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":  out,
		"has_more": hasMore,
	})
}

// ReferralStats returns the account's referral standing.
func (h *Handler) ReferralStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.accounts.Get(r.Context(), id); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.Error().Err(err).Str("account_id", id).Msg("account lookup failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	stats, err := h.referrals.Stats(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("account_id", id).Msg("referral stats failed")
		writeError(w, http.StatusInternalServerError, "referral stats failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":                 stats.Code,
		"total_referred":       stats.TotalReferred,
		"bonus_credits_earned": stats.BonusEarned,
	})
}

type redeemRequest struct {
	Code string `json:"code"`
}

// RedeemReferral redeems a referral code for the account.
func (h *Handler) RedeemReferral(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req redeemRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := h.referrals.Redeem(r.Context(), req.Code, id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "redeemed"})
	case errors.Is(err, referral.ErrCodeNotFound):
		writeError(w, http.StatusNotFound, "referral code not found")
	case errors.Is(err, referral.ErrAlreadyRedeemed):
		writeError(w, http.StatusConflict, "referral code already redeemed")
	case errors.Is(err, referral.ErrSelfReferral):
		writeError(w, http.StatusConflict, "cannot redeem own referral code")
	case errors.Is(err, referral.ErrAlreadyReferred):
		writeError(w, http.StatusConflict, "account already has a referrer")
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	default:
		h.logger.Error().Err(err).Str("account_id", id).Msg("referral redemption failed")
		writeError(w, http.StatusInternalServerError, "redemption failed")
	}
}

type consumeRequest struct {
	Units       int64  `json:"units,omitempty"` // 0 means one calculation
	Description string `json:"description,omitempty"`
}

// Consume debits credits for a calculation.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req consumeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Units < 0 {
		writeError(w, http.StatusBadRequest, "units must not be negative")
		return
	}

	entry, err := h.consumption.Consume(r.Context(), id, req.Units, req.Description)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]int64{
			"consumed":          -entry.Amount,
			"available_credits": entry.BalanceAfter,
		})
	case errors.Is(err, ledger.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	default:
		h.logger.Error().Err(err).Str("account_id", id).Msg("consumption failed")
		writeError(w, http.StatusInternalServerError, "consumption failed")
	}
}

// reconciliationEvent is the outward shape of a flagged payment event.
type reconciliationEvent struct {
	PaymentID      string    `json:"payment_id"`
	AccountID      string    `json:"account_id"`
	Status         string    `json:"status"`
	CreditedAmount int64     `json:"credited_amount"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ReconciliationList returns payment events needing operator attention:
// failed events by default, unsettled ones with ?status=seen.
func (h *Handler) ReconciliationList(w http.ResponseWriter, r *http.Request) {
	var (
		events []ports.PaymentEvent
		err    error
	)
	if r.URL.Query().Get("status") == "seen" {
		events, err = h.recon.ListUnsettled(r.Context())
	} else {
		events, err = h.recon.ListFailed(r.Context())
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("reconciliation listing failed")
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}

	out := make([]reconciliationEvent, 0, len(events))
	for _, e := range events {
		out = append(out, reconciliationEvent{
			PaymentID:      e.PaymentID,
			AccountID:      e.AccountID,
			Status:         string(e.Status),
			CreditedAmount: e.CreditedAmount,
			CreatedAt:      e.CreatedAt,
			UpdatedAt:      e.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
