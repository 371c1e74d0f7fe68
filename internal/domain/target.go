/**
 * @description
 * This file defines the fundraising target model. Targets are time-boxed goals
 * assigned to hierarchy nodes; the donation pipeline is the only writer of
 * their collection fields while they are active.
 *
 * @notes
 * - total_collection == personal_collection + team_collection is an invariant
 *   maintained by the atomic update statement in the store, never recomputed
 *   in application code from stale reads.
 * - Status is monotonic: PENDING -> IN_PROGRESS -> COMPLETED. A later
 *   correction that drops the percentage below 100 must not revert COMPLETED.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	TargetStatusPending    = "PENDING"
	TargetStatusInProgress = "IN_PROGRESS"
	TargetStatusCompleted  = "COMPLETED"
)

// Target is a fundraising goal for one hierarchy node. A user may hold several
// targets over time, but at most one is active for any given donation date.
type Target struct {
	ID                 uuid.UUID `json:"id"`
	OwnerUserID        uuid.UUID `json:"owner_user_id"`
	TargetAmount       int64     `json:"target_amount"` // in paise
	PersonalCollection int64     `json:"personal_collection"`
	TeamCollection     int64     `json:"team_collection"`
	TotalCollection    int64     `json:"total_collection"`
	StartDate          time.Time `json:"start_date"`
	EndDate            time.Time `json:"end_date"`
	Status             string    `json:"status"`
	ProgressPercentage float64   `json:"progress_percentage"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Covers reports whether the donation date falls inside the target's window.
func (t *Target) Covers(donationDate time.Time) bool {
	return !donationDate.Before(t.StartDate) && !donationDate.After(t.EndDate)
}
