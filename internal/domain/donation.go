/**
 * @description
 * This file defines the donation and commission domain models for the
 * donation-service. These structs back the database tables and the
 * distribution results returned by the commission engine.
 *
 * @notes
 * - Amounts are stored as `int64` representing the value in the smallest
 *   currency unit (paise), which avoids floating-point inaccuracies with
 *   financial data.
 * - A commission entry's amount is fixed at creation and never recalculated;
 *   the (donation_id, beneficiary_id) pair is unique, which is what makes
 *   re-processing a donation safe.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Donation payment lifecycle. A donation becomes immutable once SUCCESS,
// except for downstream linkage fields.
const (
	DonationStatusPending = "PENDING"
	DonationStatusSuccess = "SUCCESS"
	DonationStatusFailed  = "FAILED"
)

// Donation is the record created when a payment-gateway callback verifies a
// transaction. It triggers commission and target processing exactly once.
type Donation struct {
	ID                    uuid.UUID  `json:"id"`
	RecipientUserID       uuid.UUID  `json:"recipient_user_id"`
	Amount                int64      `json:"amount"` // in paise
	Currency              string     `json:"currency"`
	PaymentStatus         string     `json:"payment_status"`
	PaymentRef            *string    `json:"payment_ref,omitempty"`
	CommissionProcessedAt *time.Time `json:"commission_processed_at,omitempty"`
	TargetProcessedAt     *time.Time `json:"target_processed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Commission entry payment lifecycle. PENDING -> PAID is one-way.
const (
	CommissionStatusPending   = "PENDING"
	CommissionStatusPaid      = "PAID"
	CommissionStatusCancelled = "CANCELLED"
)

// CommissionEntry is one row of the commission ledger: a single beneficiary's
// share of a single donation. Entries for a donation are created as one batch.
type CommissionEntry struct {
	ID              uuid.UUID  `json:"id"`
	DonationID      uuid.UUID  `json:"donation_id"`
	BeneficiaryID   uuid.UUID  `json:"beneficiary_id"`
	BeneficiaryRole Role       `json:"beneficiary_role"` // role snapshot at distribution time
	HierarchyLevel  int        `json:"hierarchy_level"`  // 0 = recipient, 1 = direct parent, ...
	LevelLabel      string     `json:"level_label"`
	Amount          int64      `json:"amount"` // in paise
	Percentage      float64    `json:"percentage"`
	Status          string     `json:"status"`
	PayoutRef       *string    `json:"payout_ref,omitempty"`
	PayoutMethod    *string    `json:"payout_method,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// DistributionLine is one computed commission share before persistence.
type DistributionLine struct {
	BeneficiaryID   uuid.UUID `json:"beneficiary_id"`
	BeneficiaryRole Role      `json:"beneficiary_role"`
	HierarchyLevel  int       `json:"hierarchy_level"`
	LevelLabel      string    `json:"level_label"`
	Amount          int64     `json:"amount"` // in paise
	Percentage      float64   `json:"percentage"`
}

// DistributionSummary splits the total into the recipient's personal share and
// the hierarchy share, and records how many ancestor levels were involved.
type DistributionSummary struct {
	PersonalCommission  int64 `json:"personal_commission"`
	HierarchyCommission int64 `json:"hierarchy_commission"`
	LevelsInvolved      int   `json:"levels_involved"`
}

// Distribution is the complete, deterministic result of the commission engine
// for one donation. The organization fund is the residual after all shares.
type Distribution struct {
	Lines            []DistributionLine  `json:"lines"`
	TotalCommission  int64               `json:"total_commission"`
	OrganizationFund int64               `json:"organization_fund"`
	Summary          DistributionSummary `json:"summary"`
}

// CommissionSummary aggregates a beneficiary's ledger, optionally windowed by
// entry creation date.
type CommissionSummary struct {
	BeneficiaryID uuid.UUID         `json:"beneficiary_id"`
	TotalEarned   int64             `json:"total_earned"`
	Pending       int64             `json:"pending"`
	Paid          int64             `json:"paid"`
	EntryCount    int64             `json:"entry_count"`
	RecentEntries []CommissionEntry `json:"recent_entries"`
}
