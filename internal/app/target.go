/**
 * @description
 * This file implements the target propagation engine. On a successful,
 * attributed donation it increments the recipient's active target's personal
 * collection, then walks the ancestor chain incrementing each ancestor's team
 * collection on their own active target. Target assignment is independent of
 * commission eligibility, so this is a separate walk over the same hierarchy.
 *
 * Failure policy: a node without an active target for the donation date is
 * skipped, and a storage failure on one node's target must not abort
 * propagation to the remaining ancestors. The donation itself is never
 * affected by anything that happens here.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sahyogfoundation/donation-service/internal/domain"
	"github.com/sahyogfoundation/donation-service/internal/store"
	"github.com/sahyogfoundation/donation-service/pkg/notifyclient"
)

// PropagateTargetCollection applies a donation to the recipient's active
// target and to every ancestor's active target. Only a missing recipient is an
// error; per-node problems are logged and skipped.
func (s *Service) PropagateTargetCollection(ctx context.Context, recipientUserID uuid.UUID, amount int64, donationDate time.Time) error {
	recipient, err := s.repo.FindUserByID(ctx, recipientUserID)
	if err != nil {
		return fmt.Errorf("find donation recipient: %w", err)
	}
	return s.propagateCollections(ctx, recipient, amount, donationDate)
}

func (s *Service) propagateCollections(ctx context.Context, recipient *domain.User, amount int64, donationDate time.Time) error {
	// The recipient's own donation lands on personal_collection.
	s.applyCollection(ctx, recipient.ID, amount, 0, donationDate)

	// Every ancestor accrues the same amount on team_collection. This includes
	// donations originating from nodes that are themselves coordinators: a
	// node's personal donation counts toward all of its ancestors' team totals.
	return s.walkAncestors(ctx, recipient, func(level int, ancestor *domain.User) error {
		s.applyCollection(ctx, ancestor.ID, 0, amount, donationDate)
		return nil
	})
}

// applyCollection locates the owner's active target for the donation date and
// applies the increments atomically. All failures are swallowed here by
// design; the caller's traversal must continue regardless.
func (s *Service) applyCollection(ctx context.Context, ownerUserID uuid.UUID, personalDelta, teamDelta int64, donationDate time.Time) {
	target, err := s.repo.FindActiveTargetForDate(ctx, ownerUserID, donationDate)
	if err != nil {
		if errors.Is(err, store.ErrTargetNotFound) {
			log.Printf("level=info component=target_engine msg=\"no active target for date; skipping node\" owner_id=%s donation_date=%s", ownerUserID, donationDate.Format(time.RFC3339))
			return
		}
		log.Printf("level=error component=target_engine stage=find_target msg=\"target lookup failed\" owner_id=%s err=%v", ownerUserID, err)
		return
	}

	updated, err := s.repo.ApplyTargetCollection(ctx, target.ID, personalDelta, teamDelta)
	if err != nil {
		log.Printf("level=error component=target_engine stage=apply_collection msg=\"target update failed\" owner_id=%s target_id=%s err=%v", ownerUserID, target.ID, err)
		return
	}

	log.Printf("level=info component=target_engine msg=\"target collection updated\" target_id=%s owner_id=%s status=%s total=%d progress=%.1f",
		updated.ID, updated.OwnerUserID, updated.Status, updated.TotalCollection, updated.ProgressPercentage)

	if s.notifier != nil && target.Status != domain.TargetStatusCompleted && updated.Status == domain.TargetStatusCompleted {
		notice := notifyclient.TargetCompletedNotice{
			UserID:          updated.OwnerUserID.String(),
			TargetID:        updated.ID.String(),
			TotalCollection: updated.TotalCollection,
			Progress:        updated.ProgressPercentage,
		}
		if err := s.notifier.SendTargetCompleted(ctx, notice); err != nil {
			log.Printf("level=warn component=target_engine stage=notify msg=\"target completion notice delivery failed\" target_id=%s err=%v", updated.ID, err)
		}
	}

	if s.eventProducer != nil {
		event := domain.TargetProgressEvent{
			TargetID:           updated.ID,
			OwnerUserID:        updated.OwnerUserID,
			Status:             updated.Status,
			TotalCollection:    updated.TotalCollection,
			ProgressPercentage: updated.ProgressPercentage,
			Timestamp:          time.Now().UTC(),
		}
		if err := s.eventProducer.Publish(ctx, donationEventsExchange, "target.progress.updated", event); err != nil {
			log.Printf("level=warn component=target_engine msg=\"target event publish failed\" target_id=%s err=%v", updated.ID, err)
		}
	}
}
