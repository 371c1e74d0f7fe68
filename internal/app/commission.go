/**
 * @description
 * This file implements the commission engine: given a donation amount and the
 * user it is attributed to, it computes a complete, deterministic distribution
 * of commission across that user and every ancestor, plus the residual
 * organization fund, and optionally persists the result as a ledger batch with
 * wallet credits.
 *
 * Rules (all rates come from configuration, not literals):
 * - Volunteer recipient: 0% personal, a special first-parent rate for the
 *   direct parent, the standard ancestor rate for everyone above.
 * - Non-volunteer recipient: the personal rate for the recipient, the standard
 *   ancestor rate for every ancestor including the direct parent.
 * - Every percentage applies to the original donation amount, never to a
 *   remainder, so the organization fund is amount minus the sum of shares and
 *   is non-negative by construction of the configured rates.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sahyogfoundation/donation-service/internal/domain"
	"github.com/sahyogfoundation/donation-service/pkg/notifyclient"
)

// CommissionRates holds the configured percentage rules for the engine.
type CommissionRates struct {
	PersonalPercent        float64 // non-volunteer recipient's own share
	VolunteerParentPercent float64 // direct parent of a volunteer recipient
	AncestorLevelPercent   float64 // every other qualifying ancestor
}

// percentOf applies a percentage to an amount in paise, rounding to the
// nearest unit.
func percentOf(amount int64, percent float64) int64 {
	if percent <= 0 {
		return 0
	}
	return int64(math.Round(float64(amount) * percent / 100))
}

// levelLabel names a hierarchy level for the ledger and dashboards.
func levelLabel(level int) string {
	if level == 0 {
		return "Self"
	}
	if level == 1 {
		return "Level 1 (Direct Parent)"
	}
	return fmt.Sprintf("Level %d", level)
}

// CalculateCommissionDistribution computes the full distribution for a
// donation without side effects. It is read-only against the hierarchy store;
// a missing recipient surfaces store.ErrUserNotFound.
func (s *Service) CalculateCommissionDistribution(ctx context.Context, recipientUserID uuid.UUID, amount int64) (*domain.Distribution, error) {
	recipient, err := s.repo.FindUserByID(ctx, recipientUserID)
	if err != nil {
		return nil, fmt.Errorf("find donation recipient: %w", err)
	}

	isVolunteer := recipient.Role.IsVolunteer()
	personalPercent := s.rates.PersonalPercent
	if isVolunteer {
		personalPercent = 0
	}

	lines := []domain.DistributionLine{{
		BeneficiaryID:   recipient.ID,
		BeneficiaryRole: recipient.Role,
		HierarchyLevel:  0,
		LevelLabel:      levelLabel(0),
		Amount:          percentOf(amount, personalPercent),
		Percentage:      personalPercent,
	}}

	levels := 0
	err = s.walkAncestors(ctx, recipient, func(level int, ancestor *domain.User) error {
		percent := s.rates.AncestorLevelPercent
		if isVolunteer && level == 1 {
			percent = s.rates.VolunteerParentPercent
		}
		lines = append(lines, domain.DistributionLine{
			BeneficiaryID:   ancestor.ID,
			BeneficiaryRole: ancestor.Role,
			HierarchyLevel:  level,
			LevelLabel:      levelLabel(level),
			Amount:          percentOf(amount, percent),
			Percentage:      percent,
		})
		levels = level
		return nil
	})
	if err != nil {
		return nil, err
	}

	var total int64
	for _, line := range lines {
		total += line.Amount
	}

	return &domain.Distribution{
		Lines:            lines,
		TotalCommission:  total,
		OrganizationFund: amount - total,
		Summary: domain.DistributionSummary{
			PersonalCommission:  lines[0].Amount,
			HierarchyCommission: total - lines[0].Amount,
			LevelsInvolved:      levels,
		},
	}, nil
}

// ProcessCommissionDistribution calculates the distribution for a donation,
// persists the ledger batch, and credits each beneficiary's wallet. The ledger
// insert is idempotent per (donation, beneficiary); wallets are credited only
// for rows that were actually inserted, so re-processing the same donation is
// a no-op.
func (s *Service) ProcessCommissionDistribution(ctx context.Context, donationID, recipientUserID uuid.UUID, amount int64) (*domain.Distribution, error) {
	distribution, err := s.CalculateCommissionDistribution(ctx, recipientUserID, amount)
	if err != nil {
		return nil, err
	}

	inserted, err := s.repo.CreateCommissionEntries(ctx, donationID, distribution.Lines)
	if err != nil {
		return nil, fmt.Errorf("create commission entries: %w", err)
	}
	if len(inserted) == 0 {
		log.Printf("level=info component=commission_engine msg=\"donation already processed; ledger unchanged\" donation_id=%s", donationID)
		return distribution, nil
	}

	amountByBeneficiary := make(map[uuid.UUID]int64, len(distribution.Lines))
	for _, line := range distribution.Lines {
		amountByBeneficiary[line.BeneficiaryID] = line.Amount
	}
	labelByBeneficiary := make(map[uuid.UUID]string, len(distribution.Lines))
	for _, line := range distribution.Lines {
		labelByBeneficiary[line.BeneficiaryID] = line.LevelLabel
	}
	for _, beneficiaryID := range inserted {
		if err := s.repo.CreditCommissionWallet(ctx, beneficiaryID, amountByBeneficiary[beneficiaryID]); err != nil {
			// The ledger entry is the source of truth; the wallet is a derived
			// cache the reconciliation job rebuilds, so a failed credit is not
			// fatal to the batch.
			log.Printf("level=error component=commission_engine stage=credit_wallet msg=\"wallet credit failed\" donation_id=%s beneficiary_id=%s err=%v", donationID, beneficiaryID, err)
			continue
		}
		if s.notifier != nil && amountByBeneficiary[beneficiaryID] > 0 {
			notice := notifyclient.CommissionCreditedNotice{
				UserID:     beneficiaryID.String(),
				DonationID: donationID.String(),
				Amount:     amountByBeneficiary[beneficiaryID],
				LevelLabel: labelByBeneficiary[beneficiaryID],
			}
			if err := s.notifier.SendCommissionCredited(ctx, notice); err != nil {
				log.Printf("level=warn component=commission_engine stage=notify msg=\"commission notice delivery failed\" beneficiary_id=%s err=%v", beneficiaryID, err)
			}
		}
	}

	if err := s.repo.IncrementReferredDonationStats(ctx, recipientUserID, amount); err != nil {
		log.Printf("level=warn component=commission_engine stage=referral_stats msg=\"referred-donation counter update failed\" donation_id=%s recipient_id=%s err=%v", donationID, recipientUserID, err)
	}
	if err := s.repo.MarkDonationCommissionProcessed(ctx, donationID); err != nil {
		log.Printf("level=warn component=commission_engine stage=mark_processed msg=\"donation linkage update failed\" donation_id=%s err=%v", donationID, err)
	}

	if s.eventProducer != nil {
		event := domain.CommissionDistributedEvent{
			DonationID:       donationID,
			RecipientUserID:  recipientUserID,
			TotalCommission:  distribution.TotalCommission,
			OrganizationFund: distribution.OrganizationFund,
			LevelsInvolved:   distribution.Summary.LevelsInvolved,
			Timestamp:        time.Now().UTC(),
		}
		if err := s.eventProducer.Publish(ctx, donationEventsExchange, "commission.distributed", event); err != nil {
			log.Printf("level=warn component=commission_engine msg=\"commission event publish failed\" donation_id=%s err=%v", donationID, err)
		}
	}

	return distribution, nil
}
