/**
 * @description
 * This file contains the RabbitMQ consumer for donation payment-verified
 * events. It is the entry point of the distribution pipeline: once the
 * payment gateway confirms a donation, this consumer hands it to the service
 * for commission distribution and target propagation.
 *
 * @notes
 * - The handler returns true (ack) for malformed payloads and unknown
 *   donations; redelivering those can never succeed. It returns false (nack,
 *   requeue) only for transient storage failures.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sahyogfoundation/donation-service/internal/domain"
	"github.com/sahyogfoundation/donation-service/internal/store"
)

type DonationConsumer struct {
	service *Service
}

func NewDonationConsumer(service *Service) *DonationConsumer {
	return &DonationConsumer{service: service}
}

func (c *DonationConsumer) HandleMessage(body []byte) bool {
	var event domain.DonationVerifiedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("donation-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	if event.DonationID == uuid.Nil || event.RecipientUserID == uuid.Nil {
		log.Printf("donation-consumer: missing identifiers in event %+v", event)
		return true
	}
	if event.Amount <= 0 {
		log.Printf("donation-consumer: non-positive amount %d for donation %s; acknowledging", event.Amount, event.DonationID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	donation, err := c.service.repo.FindDonationByID(ctx, event.DonationID)
	if err != nil {
		if errors.Is(err, store.ErrDonationNotFound) {
			log.Printf("donation-consumer: no donation found for %s; acknowledging", event.DonationID)
			return true
		}
		log.Printf("donation-consumer: lookup error for donation %s: %v", event.DonationID, err)
		return false
	}
	if donation.PaymentStatus != domain.DonationStatusSuccess {
		log.Printf("donation-consumer: donation %s is %s, not SUCCESS; acknowledging", donation.ID, donation.PaymentStatus)
		return true
	}
	if donation.CommissionProcessedAt != nil {
		log.Printf("donation-consumer: donation %s already processed; acknowledging", donation.ID)
		return true
	}

	donationDate := event.DonationDate
	if donationDate.IsZero() {
		donationDate = donation.CreatedAt
	}

	result := c.service.ProcessDonation(ctx, donation.ID, event.RecipientUserID, event.Amount, donationDate)
	if result.Commission.Failed() {
		// Requeue so the distribution retries. The ledger's unique constraint
		// keeps commission replays idempotent, and the target propagation
		// stamp keeps the retry from crediting targets a second time.
		return false
	}
	return true
}
