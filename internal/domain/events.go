package domain

import (
	"time"

	"github.com/google/uuid"
)

// DonationVerifiedEvent is the message emitted by the payment-verification flow
// once a gateway callback confirms a transaction. It is the single trigger for
// commission distribution and target propagation.
type DonationVerifiedEvent struct {
	EventID         string    `json:"event_id"`
	DonationID      uuid.UUID `json:"donation_id"`
	RecipientUserID uuid.UUID `json:"recipient_user_id"`
	Amount          int64     `json:"amount"` // in paise
	Currency        string    `json:"currency"`
	DonationDate    time.Time `json:"donation_date"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// CommissionDistributedEvent is published after a donation's commission batch
// has been written to the ledger, for dashboards and the notification sink.
type CommissionDistributedEvent struct {
	DonationID       uuid.UUID `json:"donation_id"`
	RecipientUserID  uuid.UUID `json:"recipient_user_id"`
	TotalCommission  int64     `json:"total_commission"`
	OrganizationFund int64     `json:"organization_fund"`
	LevelsInvolved   int       `json:"levels_involved"`
	Timestamp        time.Time `json:"timestamp"`
}

// TargetProgressEvent is published when a target's collection changes, so the
// dashboard can refresh progress without polling.
type TargetProgressEvent struct {
	TargetID           uuid.UUID `json:"target_id"`
	OwnerUserID        uuid.UUID `json:"owner_user_id"`
	Status             string    `json:"status"`
	TotalCollection    int64     `json:"total_collection"`
	ProgressPercentage float64   `json:"progress_percentage"`
	Timestamp          time.Time `json:"timestamp"`
}
