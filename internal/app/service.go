/**
 * @description
 * This file contains the core application service for the donation-service.
 * The `Service` struct wires the commission engine and the target propagation
 * engine to the repository, the message broker, and the optional Redis
 * processing guard, and exposes the operations the surrounding application
 * consumes: donation processing, payout marking, commission summaries, and
 * hierarchy reassignment.
 *
 * Key features:
 * - `ProcessDonation` runs both engines as independent non-fatal stages: an
 *   error in one never prevents the other from running, and neither ever
 *   bubbles up to the donation-verification caller.
 * - Parent reassignment validates rank ordering, self-reference, cycles, and
 *   geographic consistency before touching the parent pointer.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sahyogfoundation/donation-service/internal/domain"
	"github.com/sahyogfoundation/donation-service/internal/store"
	"github.com/sahyogfoundation/donation-service/pkg/notifyclient"
	"github.com/sahyogfoundation/donation-service/pkg/rabbitmq"
)

const donationEventsExchange = "sahyog.events"

var (
	ErrSelfParent         = errors.New("a user cannot be their own parent")
	ErrParentNotActive    = errors.New("proposed parent is not active")
	ErrParentRankTooLow   = errors.New("proposed parent does not outrank the user")
	ErrHierarchyCycle     = errors.New("reassignment would introduce a parent cycle")
	ErrGeographicMismatch = errors.New("proposed parent belongs to a different state")
)

// ProcessingGuard suppresses duplicate processing of the same donation across
// concurrent deliveries. It is best-effort: the ledger's unique constraint is
// the correctness backstop.
type ProcessingGuard interface {
	ClaimDonation(ctx context.Context, donationID uuid.UUID) (bool, error)
	ReleaseDonation(ctx context.Context, donationID uuid.UUID) error
}

// Notifier delivers user-facing notices about wallet credits and completed
// targets. Implemented by pkg/notifyclient; delivery is best-effort.
type Notifier interface {
	SendCommissionCredited(ctx context.Context, notice notifyclient.CommissionCreditedNotice) error
	SendTargetCompleted(ctx context.Context, notice notifyclient.TargetCompletedNotice) error
}

// Service provides the core business logic for commission distribution and
// target propagation.
type Service struct {
	repo              store.Repository
	eventProducer     rabbitmq.Publisher
	guard             ProcessingGuard
	notifier          Notifier
	rates             CommissionRates
	maxHierarchyDepth int
	syntheticRootID   uuid.UUID
}

// NewService creates a new donation-service application service.
func NewService(repo store.Repository, producer rabbitmq.Publisher, rates CommissionRates, maxHierarchyDepth int, syntheticRootID uuid.UUID) *Service {
	if maxHierarchyDepth <= 0 {
		maxHierarchyDepth = 20
	}
	return &Service{
		repo:              repo,
		eventProducer:     producer,
		rates:             rates,
		maxHierarchyDepth: maxHierarchyDepth,
		syntheticRootID:   syntheticRootID,
	}
}

// SetProcessingGuard installs the optional duplicate-delivery guard.
func (s *Service) SetProcessingGuard(guard ProcessingGuard) {
	s.guard = guard
}

// SetNotifier installs the optional notification sink.
func (s *Service) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// StageResult records the outcome of one non-fatal processing stage so that
// callers and tests can observe what was swallowed instead of relying on logs.
type StageResult struct {
	Stage string
	Err   error
}

// Failed reports whether the stage recorded an error.
func (r StageResult) Failed() bool {
	return r.Err != nil
}

// ProcessDonationResult is the complete outcome of processing one verified
// donation. Both stages always run; neither error propagates to the caller.
type ProcessDonationResult struct {
	DonationID   uuid.UUID
	Skipped      bool // duplicate delivery suppressed by the processing guard
	Distribution *domain.Distribution
	Commission   StageResult
	Target       StageResult
}

// ProcessDonation is invoked once per verified payment. It runs commission
// distribution and target propagation sequentially, each wrapped as a
// non-fatal stage: the donation's success status is never rolled back because
// of anything that happens here, and no error reaches the donation
// confirmation flow.
func (s *Service) ProcessDonation(ctx context.Context, donationID, recipientUserID uuid.UUID, amount int64, donationDate time.Time) *ProcessDonationResult {
	return s.processDonation(ctx, donationID, recipientUserID, amount, donationDate, false)
}

func (s *Service) processDonation(ctx context.Context, donationID, recipientUserID uuid.UUID, amount int64, donationDate time.Time, bypassGuard bool) *ProcessDonationResult {
	result := &ProcessDonationResult{DonationID: donationID}

	guardClaimed := false
	if s.guard != nil && !bypassGuard {
		claimed, err := s.guard.ClaimDonation(ctx, donationID)
		if err != nil {
			// Guard unavailability degrades to relying on the storage markers.
			log.Printf("level=warn component=donation_pipeline msg=\"processing guard unavailable; continuing\" donation_id=%s err=%v", donationID, err)
		} else if !claimed {
			log.Printf("level=info component=donation_pipeline msg=\"duplicate delivery suppressed\" donation_id=%s", donationID)
			result.Skipped = true
			return result
		} else {
			guardClaimed = true
		}
	}

	distribution, err := s.ProcessCommissionDistribution(ctx, donationID, recipientUserID, amount)
	result.Commission = StageResult{Stage: "commission_distribution", Err: err}
	result.Distribution = distribution
	if err != nil {
		log.Printf("level=error component=donation_pipeline stage=commission_distribution msg=\"stage failed; donation unaffected\" donation_id=%s recipient_id=%s err=%v", donationID, recipientUserID, err)
	}

	result.Target = s.runTargetStage(ctx, donationID, recipientUserID, amount, donationDate)

	// A failed commission stage is retried via redelivery. The claim must not
	// outlive the attempt it covers, or the redelivery would be suppressed as
	// a duplicate and the distribution lost until the claim expires.
	if guardClaimed && result.Commission.Failed() {
		if err := s.guard.ReleaseDonation(ctx, donationID); err != nil {
			log.Printf("level=warn component=donation_pipeline msg=\"failed to release processing claim\" donation_id=%s err=%v", donationID, err)
		}
	}

	return result
}

// runTargetStage applies the donation to target collections at most once per
// donation. Commission rows carry a unique (donation_id, beneficiary_id) key
// that makes their inserts replay-safe; target increments have no such key, so
// the stage first claims a per-donation stamp and skips silently when an
// earlier attempt already holds it. The recipient is resolved before the claim
// so a lookup failure leaves the stamp free for the retry; once increments may
// have started, the stamp is never returned.
func (s *Service) runTargetStage(ctx context.Context, donationID, recipientUserID uuid.UUID, amount int64, donationDate time.Time) StageResult {
	stage := StageResult{Stage: "target_propagation"}

	recipient, err := s.repo.FindUserByID(ctx, recipientUserID)
	if err != nil {
		stage.Err = fmt.Errorf("find donation recipient: %w", err)
		log.Printf("level=error component=donation_pipeline stage=target_propagation msg=\"stage failed; donation unaffected\" donation_id=%s recipient_id=%s err=%v", donationID, recipientUserID, err)
		return stage
	}

	claimed, err := s.repo.ClaimTargetPropagation(ctx, donationID)
	if err != nil {
		stage.Err = fmt.Errorf("claim target propagation: %w", err)
		log.Printf("level=error component=donation_pipeline stage=target_propagation msg=\"stage failed; donation unaffected\" donation_id=%s recipient_id=%s err=%v", donationID, recipientUserID, err)
		return stage
	}
	if !claimed {
		log.Printf("level=info component=donation_pipeline stage=target_propagation msg=\"targets already credited for donation; skipping\" donation_id=%s", donationID)
		return stage
	}

	if err := s.propagateCollections(ctx, recipient, amount, donationDate); err != nil {
		stage.Err = err
		log.Printf("level=error component=donation_pipeline stage=target_propagation msg=\"stage failed; donation unaffected\" donation_id=%s recipient_id=%s err=%v", donationID, recipientUserID, err)
	}
	return stage
}

// ErrDonationNotProcessable is returned when a reprocess is requested for a
// donation that never reached SUCCESS.
var ErrDonationNotProcessable = errors.New("donation is not in SUCCESS status")

// ReprocessDonation re-runs the distribution pipeline for a donation by id,
// typically from an admin endpoint after a partial failure. The ledger's
// unique constraint and the target propagation stamp make this safe to call
// any number of times: replayed commission rows are skipped and targets are
// never credited twice.
func (s *Service) ReprocessDonation(ctx context.Context, donationID uuid.UUID) (*ProcessDonationResult, error) {
	donation, err := s.repo.FindDonationByID(ctx, donationID)
	if err != nil {
		return nil, fmt.Errorf("find donation: %w", err)
	}
	if donation.PaymentStatus != domain.DonationStatusSuccess {
		return nil, ErrDonationNotProcessable
	}
	// The guard is bypassed so an operator retry is not mistaken for a
	// duplicate broker delivery.
	return s.processDonation(ctx, donation.ID, donation.RecipientUserID, donation.Amount, donation.CreatedAt, true), nil
}

// GetActiveTarget returns the owner's target whose date window covers the
// given date, if any.
func (s *Service) GetActiveTarget(ctx context.Context, ownerUserID uuid.UUID, date time.Time) (*domain.Target, error) {
	return s.repo.FindActiveTargetForDate(ctx, ownerUserID, date)
}

// MarkCommissionAsPaid transitions a ledger entry from PENDING to PAID with a
// payout reference. There is no un-paying.
func (s *Service) MarkCommissionAsPaid(ctx context.Context, entryID uuid.UUID, payoutRef, method string) error {
	payoutRef = strings.TrimSpace(payoutRef)
	if payoutRef == "" {
		return errors.New("payout reference is required")
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = "bank_transfer"
	}
	return s.repo.MarkCommissionEntryPaid(ctx, entryID, payoutRef, method)
}

// GetUserCommissionSummary aggregates a beneficiary's ledger, optionally
// windowed by entry creation date, and attaches their most recent entries.
func (s *Service) GetUserCommissionSummary(ctx context.Context, userID uuid.UUID, from, to *time.Time) (*domain.CommissionSummary, error) {
	summary, err := s.repo.SummarizeCommission(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarize commission: %w", err)
	}
	recent, err := s.repo.ListRecentCommissionEntries(ctx, userID, 10)
	if err != nil {
		return nil, fmt.Errorf("list recent entries: %w", err)
	}
	summary.RecentEntries = recent
	return summary, nil
}

// ResolveAttribution resolves a referral code to the user a donation should be
// credited to.
func (s *Service) ResolveAttribution(ctx context.Context, referralCode string) (*domain.User, error) {
	return s.repo.FindUserByReferralCode(ctx, referralCode)
}

// ReassignParent repoints a user's parent after validating the hierarchy
// invariants: the parent must exist, be active, strictly outrank the child,
// not be the child itself, not create a cycle, and sit in the same state when
// both have one recorded. Passing nil detaches the user from the hierarchy.
func (s *Service) ReassignParent(ctx context.Context, userID uuid.UUID, newParentID *uuid.UUID) error {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}

	if newParentID == nil {
		return s.repo.UpdateUserParent(ctx, userID, nil)
	}
	if *newParentID == userID {
		return ErrSelfParent
	}

	parent, err := s.repo.FindUserByID(ctx, *newParentID)
	if err != nil {
		return fmt.Errorf("find proposed parent: %w", err)
	}
	if !parent.IsActive() {
		return ErrParentNotActive
	}
	if !parent.Role.Outranks(user.Role) {
		return ErrParentRankTooLow
	}
	if user.State != "" && parent.State != "" && !strings.EqualFold(user.State, parent.State) {
		return ErrGeographicMismatch
	}

	// Walking up from the proposed parent must never reach the user being
	// reassigned, otherwise the pointer would close a cycle.
	cycle := false
	err = s.walkAncestors(ctx, parent, func(level int, ancestor *domain.User) error {
		if ancestor.ID == userID {
			cycle = true
			return errStopWalk
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("validate ancestor chain: %w", err)
	}
	if cycle {
		return ErrHierarchyCycle
	}

	return s.repo.UpdateUserParent(ctx, userID, newParentID)
}

// DeactivateUser flips a hierarchy node to inactive; nodes are never deleted.
func (s *Service) DeactivateUser(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeactivateUser(ctx, userID)
}

// DonationEventConsumer builds the consumer bound to payment-verified events.
func (s *Service) DonationEventConsumer() *DonationConsumer {
	return NewDonationConsumer(s)
}
