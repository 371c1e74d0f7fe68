/**
 * @description
 * This file defines the coordinator hierarchy model for the donation-service.
 * Users form a forest linked by single-parent pointers, ordered by role rank from
 * the national level down to individual volunteers. Rank comparisons drive both
 * commission eligibility and parent-assignment validation.
 *
 * @notes
 * - Role ranks are ordinal: a smaller rank outranks a larger one. A parent must
 *   always outrank its child; this is enforced at assignment time and re-checked
 *   defensively during traversal via the visited-set.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies a user's level in the coordinator hierarchy.
type Role string

const (
	RoleNationalPresident   Role = "national_president"
	RoleZoneCoordinator     Role = "zone_coordinator"
	RoleStateCoordinator    Role = "state_coordinator"
	RoleDistrictCoordinator Role = "district_coordinator"
	RoleBlockCoordinator    Role = "block_coordinator"
	RoleVolunteer           Role = "volunteer"
)

// roleRanks orders the hierarchy; a smaller value outranks a larger one.
var roleRanks = map[Role]int{
	RoleNationalPresident:   1,
	RoleZoneCoordinator:     2,
	RoleStateCoordinator:    3,
	RoleDistrictCoordinator: 4,
	RoleBlockCoordinator:    5,
	RoleVolunteer:           6,
}

// Rank returns the ordinal rank of the role, or 0 for an unknown role.
func (r Role) Rank() int {
	return roleRanks[r]
}

// IsValid reports whether the role is one of the known hierarchy levels.
func (r Role) IsValid() bool {
	_, ok := roleRanks[r]
	return ok
}

// IsVolunteer reports whether the role falls under the volunteer classification.
func (r Role) IsVolunteer() bool {
	return r == RoleVolunteer
}

// Outranks reports whether r sits strictly above other in the hierarchy.
// Unknown roles never outrank anything.
func (r Role) Outranks(other Role) bool {
	rr, ok := roleRanks[r]
	if !ok {
		return false
	}
	or, ok := roleRanks[other]
	if !ok {
		return false
	}
	return rr < or
}

// UserStatus marks whether a user participates in commission and target flows.
// Users are never physically deleted; they are deactivated instead.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
)

// User represents a node in the coordinator hierarchy. Only the fields the
// donation-service needs are modeled here; registration and approval live in
// the surrounding application.
type User struct {
	ID                    uuid.UUID  `json:"id"`
	FullName              string     `json:"full_name"`
	Role                  Role       `json:"role"`
	ParentID              *uuid.UUID `json:"parent_id,omitempty"`
	ReferralCode          string     `json:"referral_code"`
	State                 string     `json:"state"`
	District              string     `json:"district"`
	Status                UserStatus `json:"status"`
	CommissionBalance     int64      `json:"commission_balance"` // in paise; derived cache, rebuilt from the ledger
	ReferredDonationCount int64      `json:"referred_donation_count"`
	ReferredDonationTotal int64      `json:"referred_donation_total"` // in paise
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// IsActive reports whether the user currently participates in distribution.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}
