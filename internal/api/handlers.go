/**
 * @description
 * This file contains the HTTP handlers for the donation-service's API endpoints.
 * Handlers parse incoming requests, call the application service, and write the
 * HTTP response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/store: For service logic and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sahyogfoundation/donation-service/internal/app"
	"github.com/sahyogfoundation/donation-service/internal/store"
)

// DonationHandlers holds the application service that handlers will use.
type DonationHandlers struct {
	service *app.Service
}

// NewDonationHandlers creates a new instance of DonationHandlers.
func NewDonationHandlers(service *app.Service) *DonationHandlers {
	return &DonationHandlers{service: service}
}

type processDonationRequest struct {
	DonationID      string `json:"donation_id"`
	RecipientUserID string `json:"recipient_user_id"`
	Amount          int64  `json:"amount"` // in paise
	DonationDate    string `json:"donation_date,omitempty"`
}

type stageResultResponse struct {
	Stage string `json:"stage"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type processDonationResponse struct {
	DonationID string                `json:"donation_id"`
	Skipped    bool                  `json:"skipped"`
	Stages     []stageResultResponse `json:"stages"`
}

func buildStageResponse(r app.StageResult) stageResultResponse {
	resp := stageResultResponse{Stage: r.Stage, OK: !r.Failed()}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

func buildProcessResponse(result *app.ProcessDonationResult) processDonationResponse {
	resp := processDonationResponse{
		DonationID: result.DonationID.String(),
		Skipped:    result.Skipped,
	}
	if !result.Skipped {
		resp.Stages = []stageResultResponse{
			buildStageResponse(result.Commission),
			buildStageResponse(result.Target),
		}
	}
	return resp
}

// ProcessDonationHandler handles internal requests to run the distribution
// pipeline for a verified donation. It always returns 200 when the request is
// well formed; stage failures are reported in the body, not as an HTTP error,
// because the donation itself is already final.
func (h *DonationHandlers) ProcessDonationHandler(w http.ResponseWriter, r *http.Request) {
	var req processDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}

	donationID, err := uuid.Parse(req.DonationID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid donation ID format")
		return
	}
	recipientID, err := uuid.Parse(req.RecipientUserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid recipient user ID format")
		return
	}
	if req.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, "Amount must be a positive number of paise")
		return
	}

	donationDate := time.Now().UTC()
	if strings.TrimSpace(req.DonationDate) != "" {
		donationDate, err = time.Parse(time.RFC3339, req.DonationDate)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid donation date; expected RFC3339")
			return
		}
	}

	result := h.service.ProcessDonation(r.Context(), donationID, recipientID, req.Amount, donationDate)
	h.writeJSON(w, http.StatusOK, buildProcessResponse(result))
}

// ReprocessDonationHandler re-runs the pipeline for a donation looked up by id.
func (h *DonationHandlers) ReprocessDonationHandler(w http.ResponseWriter, r *http.Request) {
	donationID, err := uuid.Parse(chi.URLParam(r, "donationID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid donation ID format")
		return
	}

	result, err := h.service.ReprocessDonation(r.Context(), donationID)
	if err != nil {
		if errors.Is(err, store.ErrDonationNotFound) {
			h.writeError(w, http.StatusNotFound, "Donation not found")
			return
		}
		if errors.Is(err, app.ErrDonationNotProcessable) {
			h.writeError(w, http.StatusConflict, "Donation is not in SUCCESS status")
			return
		}
		log.Printf("level=error component=api msg=\"donation reprocess failed\" donation_id=%s err=%v", donationID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not reprocess donation")
		return
	}

	h.writeJSON(w, http.StatusOK, buildProcessResponse(result))
}

// ResolveReferralHandler resolves a referral code to the user a donation
// should be attributed to.
func (h *DonationHandlers) ResolveReferralHandler(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "referralCode"))
	if code == "" {
		h.writeError(w, http.StatusBadRequest, "Referral code is required")
		return
	}

	user, err := h.service.ResolveAttribution(r.Context(), code)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "No user for referral code")
			return
		}
		log.Printf("level=error component=api msg=\"referral resolution failed\" referral_code=%s err=%v", code, err)
		h.writeError(w, http.StatusInternalServerError, "Could not resolve referral code")
		return
	}

	h.writeJSON(w, http.StatusOK, user)
}

// PreviewDistributionHandler computes a distribution without persisting it.
func (h *DonationHandlers) PreviewDistributionHandler(w http.ResponseWriter, r *http.Request) {
	recipientID, err := uuid.Parse(r.URL.Query().Get("recipient_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid recipient ID format")
		return
	}

	amount, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("amount")), 10, 64)
	if err != nil || amount <= 0 {
		h.writeError(w, http.StatusBadRequest, "Amount must be a positive number of paise")
		return
	}

	distribution, err := h.service.CalculateCommissionDistribution(r.Context(), recipientID, amount)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "Recipient not found")
			return
		}
		log.Printf("level=error component=api msg=\"distribution preview failed\" recipient_id=%s err=%v", recipientID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not compute distribution")
		return
	}

	h.writeJSON(w, http.StatusOK, distribution)
}

// CommissionSummaryHandler returns a beneficiary's aggregated ledger totals
// with optional from/to RFC3339 window parameters.
func (h *DonationHandlers) CommissionSummaryHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	var from, to *time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid 'from' date; expected RFC3339")
			return
		}
		from = &t
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid 'to' date; expected RFC3339")
			return
		}
		to = &t
	}

	summary, err := h.service.GetUserCommissionSummary(r.Context(), userID, from, to)
	if err != nil {
		log.Printf("level=error component=api msg=\"commission summary failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not load commission summary")
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

type markPaidRequest struct {
	PayoutRef    string `json:"payout_ref"`
	PayoutMethod string `json:"payout_method,omitempty"`
}

// MarkCommissionPaidHandler transitions a ledger entry to PAID.
func (h *DonationHandlers) MarkCommissionPaidHandler(w http.ResponseWriter, r *http.Request) {
	entryID, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid commission entry ID format")
		return
	}

	var req markPaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}
	if strings.TrimSpace(req.PayoutRef) == "" {
		h.writeError(w, http.StatusBadRequest, "Payout reference is required")
		return
	}

	if err := h.service.MarkCommissionAsPaid(r.Context(), entryID, req.PayoutRef, req.PayoutMethod); err != nil {
		if errors.Is(err, store.ErrCommissionEntryNotFound) {
			h.writeError(w, http.StatusNotFound, "Commission entry not found")
			return
		}
		if errors.Is(err, store.ErrCommissionNotPending) {
			h.writeError(w, http.StatusConflict, "Commission entry is not pending")
			return
		}
		log.Printf("level=error component=api msg=\"mark paid failed\" entry_id=%s err=%v", entryID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not mark commission as paid")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "PAID"})
}

type reassignParentRequest struct {
	ParentID *string `json:"parent_id"` // null detaches the user
}

// ReassignParentHandler changes a user's position in the hierarchy after
// validation.
func (h *DonationHandlers) ReassignParentHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	var req reassignParentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}

	var parentID *uuid.UUID
	if req.ParentID != nil {
		parsed, err := uuid.Parse(*req.ParentID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid parent ID format")
			return
		}
		parentID = &parsed
	}

	if err := h.service.ReassignParent(r.Context(), userID, parentID); err != nil {
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, "User not found")
		case errors.Is(err, app.ErrSelfParent):
			h.writeError(w, http.StatusUnprocessableEntity, "A user cannot be their own parent")
		case errors.Is(err, app.ErrParentNotActive):
			h.writeError(w, http.StatusUnprocessableEntity, "Proposed parent is not active")
		case errors.Is(err, app.ErrParentRankTooLow):
			h.writeError(w, http.StatusUnprocessableEntity, "Parent must outrank the user")
		case errors.Is(err, app.ErrHierarchyCycle):
			h.writeError(w, http.StatusUnprocessableEntity, "Reassignment would create a cycle")
		case errors.Is(err, app.ErrGeographicMismatch):
			h.writeError(w, http.StatusUnprocessableEntity, "Parent belongs to a different state")
		default:
			log.Printf("level=error component=api msg=\"parent reassignment failed\" user_id=%s err=%v", userID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not reassign parent")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reassigned"})
}

// DeactivateUserHandler flips a user to inactive.
func (h *DonationHandlers) DeactivateUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	if err := h.service.DeactivateUser(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Printf("level=error component=api msg=\"user deactivation failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not deactivate user")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "inactive"})
}

// ActiveTargetHandler returns the user's active target for a date (defaults
// to now).
func (h *DonationHandlers) ActiveTargetHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	date := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		date, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid date; expected RFC3339")
			return
		}
	}

	target, err := h.service.GetActiveTarget(r.Context(), userID, date)
	if err != nil {
		if errors.Is(err, store.ErrTargetNotFound) {
			h.writeError(w, http.StatusNotFound, "No active target for date")
			return
		}
		log.Printf("level=error component=api msg=\"active target lookup failed\" user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not load active target")
		return
	}

	h.writeJSON(w, http.StatusOK, target)
}

// writeJSON is a helper for writing JSON responses.
func (h *DonationHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *DonationHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
