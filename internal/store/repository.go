/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the donation-service. By defining an
 * interface, we decouple the engines' business logic from the specific database
 * implementation (PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sahyogfoundation/donation-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Hierarchy methods
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	FindUserByReferralCode(ctx context.Context, referralCode string) (*domain.User, error)
	UpdateUserParent(ctx context.Context, userID uuid.UUID, parentID *uuid.UUID) error
	DeactivateUser(ctx context.Context, userID uuid.UUID) error
	IncrementReferredDonationStats(ctx context.Context, userID uuid.UUID, amount int64) error

	// Donation methods
	FindDonationByID(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error)
	MarkDonationCommissionProcessed(ctx context.Context, donationID uuid.UUID) error
	ClaimTargetPropagation(ctx context.Context, donationID uuid.UUID) (bool, error)

	// Commission ledger methods
	CreateCommissionEntries(ctx context.Context, donationID uuid.UUID, lines []domain.DistributionLine) ([]uuid.UUID, error)
	CreditCommissionWallet(ctx context.Context, beneficiaryID uuid.UUID, amount int64) error
	MarkCommissionEntryPaid(ctx context.Context, entryID uuid.UUID, payoutRef string, method string) error
	SummarizeCommission(ctx context.Context, beneficiaryID uuid.UUID, from, to *time.Time) (*domain.CommissionSummary, error)
	ListRecentCommissionEntries(ctx context.Context, beneficiaryID uuid.UUID, limit int) ([]domain.CommissionEntry, error)
	ReconcileCommissionBalances(ctx context.Context) (int64, error)

	// Target methods
	FindActiveTargetForDate(ctx context.Context, ownerUserID uuid.UUID, donationDate time.Time) (*domain.Target, error)
	ApplyTargetCollection(ctx context.Context, targetID uuid.UUID, personalDelta, teamDelta int64) (*domain.Target, error)
}
