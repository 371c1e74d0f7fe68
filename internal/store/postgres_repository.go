/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to users, donations, the commission ledger, and fundraising targets.
 *
 * Key properties:
 * - Every counter mutation (wallet balances, target collections, referral stats)
 *   is a single atomic `SET x = x + delta` statement, never a read-modify-write
 *   in application code, so interleaved donations cannot lose updates.
 * - The commission ledger batch insert relies on the UNIQUE
 *   (donation_id, beneficiary_id) constraint with ON CONFLICT DO NOTHING, which
 *   makes re-processing a donation produce zero new rows.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sahyogfoundation/donation-service/internal/domain"
)

var (
	ErrUserNotFound            = errors.New("user not found")
	ErrDonationNotFound        = errors.New("donation not found")
	ErrTargetNotFound          = errors.New("no active target for date")
	ErrCommissionEntryNotFound = errors.New("commission entry not found")
	ErrCommissionNotPending    = errors.New("commission entry is not pending")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, full_name, role, parent_id, referral_code, COALESCE(state, ''), COALESCE(district, ''),
       status, commission_balance, referred_donation_count, referred_donation_total, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID, &user.FullName, &user.Role, &user.ParentID, &user.ReferralCode,
		&user.State, &user.District, &user.Status, &user.CommissionBalance,
		&user.ReferredDonationCount, &user.ReferredDonationTotal, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindUserByID retrieves a hierarchy node from the database by its ID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, userID))
}

// FindUserByReferralCode resolves the user a donation is attributed to via referral code.
func (r *PostgresRepository) FindUserByReferralCode(ctx context.Context, referralCode string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(btrim(referral_code)) = lower(btrim($1))`
	return scanUser(r.db.QueryRow(ctx, query, referralCode))
}

// UpdateUserParent repoints a user's single parent pointer. Rank and cycle
// validation happens in the application layer before this is called.
func (r *PostgresRepository) UpdateUserParent(ctx context.Context, userID uuid.UUID, parentID *uuid.UUID) error {
	result, err := r.db.Exec(ctx, `UPDATE users SET parent_id = $1, updated_at = NOW() WHERE id = $2`, parentID, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeactivateUser flips a user to inactive. Users are never physically deleted.
func (r *PostgresRepository) DeactivateUser(ctx context.Context, userID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `UPDATE users SET status = 'inactive', updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// IncrementReferredDonationStats atomically bumps the recipient's cumulative
// referred-donation counters.
func (r *PostgresRepository) IncrementReferredDonationStats(ctx context.Context, userID uuid.UUID, amount int64) error {
	query := `
		UPDATE users
		SET referred_donation_count = referred_donation_count + 1,
		    referred_donation_total = referred_donation_total + $1,
		    updated_at = NOW()
		WHERE id = $2
	`
	result, err := r.db.Exec(ctx, query, amount, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// FindDonationByID retrieves a donation record.
func (r *PostgresRepository) FindDonationByID(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error) {
	var d domain.Donation
	query := `
		SELECT id, recipient_user_id, amount, currency, payment_status, payment_ref,
		       commission_processed_at, target_processed_at, created_at
		FROM donations
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, donationID).Scan(
		&d.ID, &d.RecipientUserID, &d.Amount, &d.Currency, &d.PaymentStatus,
		&d.PaymentRef, &d.CommissionProcessedAt, &d.TargetProcessedAt, &d.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return &d, nil
}

// MarkDonationCommissionProcessed stamps the downstream linkage field on a
// successful donation. The donation row itself stays immutable otherwise.
func (r *PostgresRepository) MarkDonationCommissionProcessed(ctx context.Context, donationID uuid.UUID) error {
	query := `
		UPDATE donations
		SET commission_processed_at = NOW()
		WHERE id = $1 AND payment_status = 'SUCCESS' AND commission_processed_at IS NULL
	`
	_, err := r.db.Exec(ctx, query, donationID)
	return err
}

// ClaimTargetPropagation atomically stamps the donation as target-propagated.
// It returns true only for the caller that flipped the NULL stamp, so at most
// one processing attempt ever applies the donation to target collections. The
// commission ledger has its own unique key; target rows have no natural one,
// which is why this stamp exists.
func (r *PostgresRepository) ClaimTargetPropagation(ctx context.Context, donationID uuid.UUID) (bool, error) {
	query := `
		UPDATE donations
		SET target_processed_at = NOW()
		WHERE id = $1 AND target_processed_at IS NULL
	`
	tag, err := r.db.Exec(ctx, query, donationID)
	if err != nil {
		return false, fmt.Errorf("claim target propagation for donation %s: %w", donationID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreateCommissionEntries inserts one ledger row per distribution line, all
// PENDING, within a single transaction. Lines that already exist for this
// (donation, beneficiary) pair are skipped via ON CONFLICT, and the returned
// slice holds the beneficiaries whose rows were actually inserted; an empty
// slice means the donation was already fully processed. Callers must credit
// wallets only for the returned beneficiaries. Zero-amount lines are not
// persisted.
func (r *PostgresRepository) CreateCommissionEntries(ctx context.Context, donationID uuid.UUID, lines []domain.DistributionLine) ([]uuid.UUID, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO commission_entries (
			id, donation_id, beneficiary_id, beneficiary_role, hierarchy_level,
			level_label, amount, percentage, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'PENDING', NOW())
		ON CONFLICT (donation_id, beneficiary_id) DO NOTHING
		RETURNING beneficiary_id
	`

	var inserted []uuid.UUID
	for _, line := range lines {
		if line.Amount <= 0 {
			continue
		}
		var beneficiaryID uuid.UUID
		err := tx.QueryRow(ctx, query,
			uuid.New(), donationID, line.BeneficiaryID, line.BeneficiaryRole,
			line.HierarchyLevel, line.LevelLabel, line.Amount, line.Percentage,
		).Scan(&beneficiaryID)
		if err != nil {
			// ON CONFLICT DO NOTHING yields no row when the entry already exists.
			if err == pgx.ErrNoRows {
				continue
			}
			return nil, fmt.Errorf("insert commission entry for beneficiary %s: %w", line.BeneficiaryID, err)
		}
		inserted = append(inserted, beneficiaryID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return inserted, nil
}

// CreditCommissionWallet performs an atomic credit on a beneficiary's running
// commission balance. The ledger is the source of truth; this balance is a
// derived cache that the reconciliation job can rebuild.
func (r *PostgresRepository) CreditCommissionWallet(ctx context.Context, beneficiaryID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	query := `UPDATE users SET commission_balance = commission_balance + $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.Exec(ctx, query, amount, beneficiaryID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkCommissionEntryPaid transitions one ledger entry from PENDING to PAID,
// stamping the payout reference and timestamp. The transition is one-way.
func (r *PostgresRepository) MarkCommissionEntryPaid(ctx context.Context, entryID uuid.UUID, payoutRef string, method string) error {
	query := `
		UPDATE commission_entries
		SET status = 'PAID', payout_ref = $2, payout_method = $3, paid_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`
	result, err := r.db.Exec(ctx, query, entryID, payoutRef, method)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing entry from one that already left PENDING.
	var status string
	err = r.db.QueryRow(ctx, `SELECT status FROM commission_entries WHERE id = $1`, entryID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrCommissionEntryNotFound
		}
		return err
	}
	return ErrCommissionNotPending
}

// SummarizeCommission aggregates a beneficiary's ledger, optionally windowed by
// entry creation date. Cancelled entries are excluded from earned totals.
func (r *PostgresRepository) SummarizeCommission(ctx context.Context, beneficiaryID uuid.UUID, from, to *time.Time) (*domain.CommissionSummary, error) {
	summary := domain.CommissionSummary{BeneficiaryID: beneficiaryID}
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE status <> 'CANCELLED'), 0),
			COALESCE(SUM(amount) FILTER (WHERE status = 'PENDING'), 0),
			COALESCE(SUM(amount) FILTER (WHERE status = 'PAID'), 0),
			COUNT(*)
		FROM commission_entries
		WHERE beneficiary_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
	`
	err := r.db.QueryRow(ctx, query, beneficiaryID, from, to).Scan(
		&summary.TotalEarned, &summary.Pending, &summary.Paid, &summary.EntryCount,
	)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListRecentCommissionEntries returns the newest ledger entries for a beneficiary.
func (r *PostgresRepository) ListRecentCommissionEntries(ctx context.Context, beneficiaryID uuid.UUID, limit int) ([]domain.CommissionEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	query := `
		SELECT id, donation_id, beneficiary_id, beneficiary_role, hierarchy_level,
		       level_label, amount, percentage, status, payout_ref, payout_method,
		       paid_at, created_at
		FROM commission_entries
		WHERE beneficiary_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, beneficiaryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.CommissionEntry
	for rows.Next() {
		var e domain.CommissionEntry
		err := rows.Scan(
			&e.ID, &e.DonationID, &e.BeneficiaryID, &e.BeneficiaryRole, &e.HierarchyLevel,
			&e.LevelLabel, &e.Amount, &e.Percentage, &e.Status, &e.PayoutRef, &e.PayoutMethod,
			&e.PaidAt, &e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReconcileCommissionBalances rewrites any wallet balance that drifted from the
// sum of its non-cancelled ledger entries and returns how many rows were
// corrected. Drift can accumulate because wallet credits are not atomic with
// ledger-entry creation across beneficiaries.
func (r *PostgresRepository) ReconcileCommissionBalances(ctx context.Context) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	fixMismatched := `
		UPDATE users u
		SET commission_balance = l.earned, updated_at = NOW()
		FROM (
			SELECT beneficiary_id, SUM(amount) AS earned
			FROM commission_entries
			WHERE status <> 'CANCELLED'
			GROUP BY beneficiary_id
		) l
		WHERE u.id = l.beneficiary_id AND u.commission_balance <> l.earned
	`
	mismatched, err := tx.Exec(ctx, fixMismatched)
	if err != nil {
		return 0, fmt.Errorf("reconcile mismatched balances: %w", err)
	}

	zeroOrphaned := `
		UPDATE users u
		SET commission_balance = 0, updated_at = NOW()
		WHERE u.commission_balance <> 0
		  AND NOT EXISTS (
			SELECT 1 FROM commission_entries e
			WHERE e.beneficiary_id = u.id AND e.status <> 'CANCELLED'
		  )
	`
	orphaned, err := tx.Exec(ctx, zeroOrphaned)
	if err != nil {
		return 0, fmt.Errorf("reconcile orphaned balances: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return mismatched.RowsAffected() + orphaned.RowsAffected(), nil
}

// FindActiveTargetForDate locates the owner's target whose window contains the
// donation date and whose status still accepts collections. At most one target
// should be active per owner for any date; ties go to the latest start date.
func (r *PostgresRepository) FindActiveTargetForDate(ctx context.Context, ownerUserID uuid.UUID, donationDate time.Time) (*domain.Target, error) {
	var t domain.Target
	query := `
		SELECT id, owner_user_id, target_amount, personal_collection, team_collection,
		       total_collection, start_date, end_date, status, progress_percentage,
		       created_at, updated_at
		FROM targets
		WHERE owner_user_id = $1
		  AND status IN ('PENDING', 'IN_PROGRESS')
		  AND start_date <= $2
		  AND end_date >= $2
		ORDER BY start_date DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query, ownerUserID, donationDate).Scan(
		&t.ID, &t.OwnerUserID, &t.TargetAmount, &t.PersonalCollection, &t.TeamCollection,
		&t.TotalCollection, &t.StartDate, &t.EndDate, &t.Status, &t.ProgressPercentage,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ApplyTargetCollection increments a target's collections in a single atomic
// statement and returns the updated row. The statement maintains the
// total == personal + team invariant, recomputes the progress percentage
// (0 when target_amount is 0), and enforces the monotonic status ladder:
// PENDING -> IN_PROGRESS on first collection, -> COMPLETED at 100%, and
// COMPLETED never regresses.
func (r *PostgresRepository) ApplyTargetCollection(ctx context.Context, targetID uuid.UUID, personalDelta, teamDelta int64) (*domain.Target, error) {
	var t domain.Target
	query := `
		UPDATE targets
		SET personal_collection = personal_collection + $2,
		    team_collection = team_collection + $3,
		    total_collection = personal_collection + $2 + team_collection + $3,
		    progress_percentage = CASE
		        WHEN target_amount > 0
		            THEN (personal_collection + $2 + team_collection + $3)::float8 * 100 / target_amount
		        ELSE 0
		    END,
		    status = CASE
		        WHEN status = 'COMPLETED' THEN 'COMPLETED'
		        WHEN target_amount > 0
		            AND (personal_collection + $2 + team_collection + $3) >= target_amount THEN 'COMPLETED'
		        ELSE 'IN_PROGRESS'
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, owner_user_id, target_amount, personal_collection, team_collection,
		          total_collection, start_date, end_date, status, progress_percentage,
		          created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, targetID, personalDelta, teamDelta).Scan(
		&t.ID, &t.OwnerUserID, &t.TargetAmount, &t.PersonalCollection, &t.TeamCollection,
		&t.TotalCollection, &t.StartDate, &t.EndDate, &t.Status, &t.ProgressPercentage,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	return &t, nil
}
