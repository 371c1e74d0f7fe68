package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sahyogfoundation/donation-service/internal/domain"
	"github.com/sahyogfoundation/donation-service/internal/store"
)

type consumerRepoStub struct {
	pipelineRepoStub
	donation    *domain.Donation
	donationErr error
}

func (s *consumerRepoStub) FindDonationByID(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error) {
	if s.donationErr != nil {
		return nil, s.donationErr
	}
	if s.donation == nil || s.donation.ID != donationID {
		return nil, store.ErrDonationNotFound
	}
	return s.donation, nil
}

func consumerFixture() (*domain.User, *consumerRepoStub, *DonationConsumer) {
	users, ps := pipelineStub()
	stub := &consumerRepoStub{pipelineRepoStub: *ps}
	stub.donation = &domain.Donation{
		ID:              uuid.New(),
		RecipientUserID: users[0].ID,
		Amount:          1_000_000,
		PaymentStatus:   domain.DonationStatusSuccess,
		CreatedAt:       time.Now(),
	}
	svc := newTestService(stub)
	return users[0], stub, NewDonationConsumer(svc)
}

func verifiedEventBody(t *testing.T, donationID, recipientID uuid.UUID, amount int64) []byte {
	t.Helper()
	body, err := json.Marshal(domain.DonationVerifiedEvent{
		EventID:         uuid.NewString(),
		DonationID:      donationID,
		RecipientUserID: recipientID,
		Amount:          amount,
		Currency:        "INR",
		DonationDate:    time.Now(),
		OccurredAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestConsumerAcksMalformedPayload(t *testing.T) {
	_, stub, consumer := consumerFixture()

	if !consumer.HandleMessage([]byte("{not json")) {
		t.Fatal("malformed payload must be acked; redelivery cannot help")
	}
	if stub.createCalls != 0 {
		t.Fatal("malformed payload must not reach the pipeline")
	}
}

func TestConsumerAcksMissingIdentifiers(t *testing.T) {
	recipient, _, consumer := consumerFixture()

	if !consumer.HandleMessage(verifiedEventBody(t, uuid.Nil, recipient.ID, 1_000_000)) {
		t.Fatal("missing donation id must be acked")
	}
	if !consumer.HandleMessage(verifiedEventBody(t, uuid.New(), recipient.ID, -5)) {
		t.Fatal("non-positive amount must be acked")
	}
}

func TestConsumerAcksUnknownDonation(t *testing.T) {
	recipient, _, consumer := consumerFixture()

	if !consumer.HandleMessage(verifiedEventBody(t, uuid.New(), recipient.ID, 1_000_000)) {
		t.Fatal("unknown donation must be acked")
	}
}

func TestConsumerAcksNonSuccessDonation(t *testing.T) {
	recipient, stub, consumer := consumerFixture()
	stub.donation.PaymentStatus = domain.DonationStatusPending

	if !consumer.HandleMessage(verifiedEventBody(t, stub.donation.ID, recipient.ID, 1_000_000)) {
		t.Fatal("non-SUCCESS donation must be acked")
	}
	if stub.createCalls != 0 {
		t.Fatal("non-SUCCESS donation must not be distributed")
	}
}

func TestConsumerAcksAlreadyProcessedDonation(t *testing.T) {
	recipient, stub, consumer := consumerFixture()
	processedAt := time.Now()
	stub.donation.CommissionProcessedAt = &processedAt

	if !consumer.HandleMessage(verifiedEventBody(t, stub.donation.ID, recipient.ID, 1_000_000)) {
		t.Fatal("already-processed donation must be acked")
	}
	if stub.createCalls != 0 {
		t.Fatal("already-processed donation must not be redistributed")
	}
}

func TestConsumerRequeuesOnLookupFailure(t *testing.T) {
	recipient, stub, consumer := consumerFixture()
	stub.donationErr = errors.New("db unreachable")

	if consumer.HandleMessage(verifiedEventBody(t, stub.donation.ID, recipient.ID, 1_000_000)) {
		t.Fatal("transient lookup failure must be requeued")
	}
}

func TestConsumerAcksSuccessfulDistribution(t *testing.T) {
	recipient, stub, consumer := consumerFixture()

	if !consumer.HandleMessage(verifiedEventBody(t, stub.donation.ID, recipient.ID, 1_000_000)) {
		t.Fatal("successful distribution must be acked")
	}
	if stub.createCalls != 1 {
		t.Fatalf("expected one ledger batch, got %d", stub.createCalls)
	}
}

func TestConsumerRequeuesOnCommissionStageFailure(t *testing.T) {
	recipient, stub, consumer := consumerFixture()
	stub.createErr = errors.New("ledger down")

	if consumer.HandleMessage(verifiedEventBody(t, stub.donation.ID, recipient.ID, 1_000_000)) {
		t.Fatal("failed commission stage must be requeued for retry")
	}
}

func TestConsumerRedeliveryCountsTargetsOnce(t *testing.T) {
	recipient, stub, consumer := consumerFixture()
	body := verifiedEventBody(t, stub.donation.ID, recipient.ID, 1_000_000)

	// Delivery one fails the commission stage after targets were credited.
	stub.createErr = errors.New("ledger down")
	if consumer.HandleMessage(body) {
		t.Fatal("failed commission stage must be requeued for retry")
	}
	if len(stub.applied) != 3 {
		t.Fatalf("first delivery should update 3 targets, got %d", len(stub.applied))
	}

	// The redelivery completes the commissions; the donation must not land on
	// any target a second time.
	stub.createErr = nil
	if !consumer.HandleMessage(body) {
		t.Fatal("recovered redelivery must be acked")
	}
	if stub.createCalls != 2 {
		t.Fatalf("expected a second ledger attempt, got %d", stub.createCalls)
	}
	if len(stub.applied) != 3 {
		t.Fatalf("target updates applied %d times across the redelivery, want 3", len(stub.applied))
	}
}
