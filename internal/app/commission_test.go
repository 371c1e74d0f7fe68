package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sahyogfoundation/donation-service/internal/domain"
	"github.com/sahyogfoundation/donation-service/internal/store"
)

var testRoot = uuid.MustParse("00000000-0000-0000-0000-00000000f00d")

type hierarchyRepoStub struct {
	store.Repository
	users map[uuid.UUID]*domain.User
}

func (s *hierarchyRepoStub) FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func newTestService(repo store.Repository) *Service {
	return NewService(repo, nil, CommissionRates{
		PersonalPercent:        15,
		VolunteerParentPercent: 5,
		AncestorLevelPercent:   2,
	}, 20, testRoot)
}

func newUser(role domain.Role, parent *uuid.UUID) *domain.User {
	return &domain.User{
		ID:       uuid.New(),
		Role:     role,
		ParentID: parent,
		Status:   domain.UserStatusActive,
	}
}

// chain builds a bottom-up chain where roles[0] is the recipient and each
// following role is the parent of the previous node. Returns the stub and the
// users in the same order.
func chain(roles ...domain.Role) (*hierarchyRepoStub, []*domain.User) {
	stub := &hierarchyRepoStub{users: make(map[uuid.UUID]*domain.User)}
	users := make([]*domain.User, len(roles))
	for i := len(roles) - 1; i >= 0; i-- {
		var parent *uuid.UUID
		if i < len(roles)-1 {
			parent = &users[i+1].ID
		}
		users[i] = newUser(roles[i], parent)
		stub.users[users[i].ID] = users[i]
	}
	return stub, users
}

func TestCalculateDistributionNonVolunteerNoAncestors(t *testing.T) {
	stub, users := chain(domain.RoleDistrictCoordinator)
	svc := newTestService(stub)

	// Rs 10,000 donation in paise.
	dist, err := svc.CalculateCommissionDistribution(context.Background(), users[0].ID, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(dist.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(dist.Lines))
	}
	if dist.Lines[0].Amount != 150_000 {
		t.Fatalf("expected personal commission 150000, got %d", dist.Lines[0].Amount)
	}
	if dist.OrganizationFund != 850_000 {
		t.Fatalf("expected org fund 850000, got %d", dist.OrganizationFund)
	}
	if dist.Summary.PersonalCommission != 150_000 || dist.Summary.HierarchyCommission != 0 {
		t.Fatalf("unexpected summary: %+v", dist.Summary)
	}
}

func TestCalculateDistributionVolunteerDirectParentOnly(t *testing.T) {
	stub, users := chain(domain.RoleVolunteer, domain.RoleBlockCoordinator)
	svc := newTestService(stub)

	dist, err := svc.CalculateCommissionDistribution(context.Background(), users[0].ID, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(dist.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(dist.Lines))
	}
	if dist.Lines[0].Amount != 0 {
		t.Fatalf("volunteer personal share must be zero, got %d", dist.Lines[0].Amount)
	}
	if dist.Lines[1].Amount != 50_000 || dist.Lines[1].Percentage != 5 {
		t.Fatalf("direct parent of volunteer should get 5%%: %+v", dist.Lines[1])
	}
	if dist.OrganizationFund != 950_000 {
		t.Fatalf("expected org fund 950000, got %d", dist.OrganizationFund)
	}
}

func TestCalculateDistributionVolunteerThreeAncestors(t *testing.T) {
	stub, users := chain(domain.RoleVolunteer, domain.RoleBlockCoordinator, domain.RoleDistrictCoordinator, domain.RoleStateCoordinator)
	svc := newTestService(stub)

	dist, err := svc.CalculateCommissionDistribution(context.Background(), users[0].ID, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []int64{0, 50_000, 20_000, 20_000}
	if len(dist.Lines) != len(want) {
		t.Fatalf("expected %d lines, got %d", len(want), len(dist.Lines))
	}
	for i, amount := range want {
		if dist.Lines[i].Amount != amount {
			t.Fatalf("line %d: expected %d, got %d", i, amount, dist.Lines[i].Amount)
		}
	}
	if dist.TotalCommission != 90_000 {
		t.Fatalf("expected total 90000, got %d", dist.TotalCommission)
	}
	if dist.OrganizationFund != 910_000 {
		t.Fatalf("expected org fund 910000, got %d", dist.OrganizationFund)
	}
	if dist.Summary.LevelsInvolved != 3 {
		t.Fatalf("expected 3 ancestor levels, got %d", dist.Summary.LevelsInvolved)
	}
}

func TestCalculateDistributionNonVolunteerTwoAncestors(t *testing.T) {
	stub, users := chain(domain.RoleDistrictCoordinator, domain.RoleStateCoordinator, domain.RoleZoneCoordinator)
	svc := newTestService(stub)

	dist, err := svc.CalculateCommissionDistribution(context.Background(), users[0].ID, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Non-volunteer recipient: the direct parent gets the standard ancestor
	// rate, not the volunteer first-parent rate.
	want := []int64{150_000, 20_000, 20_000}
	for i, amount := range want {
		if dist.Lines[i].Amount != amount {
			t.Fatalf("line %d: expected %d, got %d", i, amount, dist.Lines[i].Amount)
		}
	}
	if dist.OrganizationFund != 810_000 {
		t.Fatalf("expected org fund 810000, got %d", dist.OrganizationFund)
	}
}

func TestCalculateDistributionExactSumAcrossDepths(t *testing.T) {
	amounts := []int64{1, 99, 333, 10_001, 1_000_000, 7_777_777}
	for depth := 0; depth <= 20; depth++ {
		roles := make([]domain.Role, depth+1)
		roles[0] = domain.RoleVolunteer
		for i := 1; i <= depth; i++ {
			roles[i] = domain.RoleBlockCoordinator
		}
		stub, users := chain(roles...)
		svc := newTestService(stub)

		for _, amount := range amounts {
			dist, err := svc.CalculateCommissionDistribution(context.Background(), users[0].ID, amount)
			if err != nil {
				t.Fatalf("depth %d amount %d: %v", depth, amount, err)
			}
			var sum int64
			for _, line := range dist.Lines {
				sum += line.Amount
			}
			if sum+dist.OrganizationFund != amount {
				t.Fatalf("depth %d amount %d: shares %d + fund %d != amount", depth, amount, sum, dist.OrganizationFund)
			}
			if dist.OrganizationFund < 0 {
				t.Fatalf("depth %d amount %d: negative org fund %d", depth, amount, dist.OrganizationFund)
			}
		}
	}
}

func TestCalculateDistributionCycleHalts(t *testing.T) {
	stub, users := chain(domain.RoleVolunteer, domain.RoleBlockCoordinator, domain.RoleDistrictCoordinator)
	// Corrupt the data: the top ancestor points back down at the first ancestor.
	users[2].ParentID = &users[1].ID
	svc := newTestService(stub)

	dist, err := svc.CalculateCommissionDistribution(context.Background(), users[0].ID, 1_000_000)
	if err != nil {
		t.Fatalf("cycle must halt cleanly, got error: %v", err)
	}
	// Recipient + the two distinct ancestors, each counted once.
	if len(dist.Lines) != 3 {
		t.Fatalf("expected 3 lines despite cycle, got %d", len(dist.Lines))
	}
}

func TestCalculateDistributionDepthCap(t *testing.T) {
	roles := make([]domain.Role, 30)
	roles[0] = domain.RoleVolunteer
	for i := 1; i < len(roles); i++ {
		roles[i] = domain.RoleBlockCoordinator
	}
	stub, users := chain(roles...)
	svc := newTestService(stub)

	dist, err := svc.CalculateCommissionDistribution(context.Background(), users[0].ID, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Recipient line plus at most maxHierarchyDepth ancestor lines.
	if len(dist.Lines) != 21 {
		t.Fatalf("expected 21 lines at the cap, got %d", len(dist.Lines))
	}
}

func TestCalculateDistributionSyntheticRootStops(t *testing.T) {
	stub, users := chain(domain.RoleVolunteer, domain.RoleBlockCoordinator)
	root := testRoot
	users[1].ParentID = &root
	svc := newTestService(stub)

	dist, err := svc.CalculateCommissionDistribution(context.Background(), users[0].ID, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dist.Lines) != 2 {
		t.Fatalf("synthetic root must not receive a line; got %d lines", len(dist.Lines))
	}
}

func TestCalculateDistributionRecipientMissing(t *testing.T) {
	svc := newTestService(&hierarchyRepoStub{users: map[uuid.UUID]*domain.User{}})

	_, err := svc.CalculateCommissionDistribution(context.Background(), uuid.New(), 1_000_000)
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

type processRepoStub struct {
	hierarchyRepoStub

	insertedIDs  []uuid.UUID
	createErr    error
	createCalls  int
	createdLines []domain.DistributionLine

	creditErrFor  map[uuid.UUID]error
	credits       map[uuid.UUID]int64
	statsCalls    int
	statsAmount   int64
	markProcessed []uuid.UUID
}

func (s *processRepoStub) CreateCommissionEntries(ctx context.Context, donationID uuid.UUID, lines []domain.DistributionLine) ([]uuid.UUID, error) {
	s.createCalls++
	s.createdLines = lines
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.insertedIDs, nil
}

func (s *processRepoStub) CreditCommissionWallet(ctx context.Context, beneficiaryID uuid.UUID, amount int64) error {
	if err := s.creditErrFor[beneficiaryID]; err != nil {
		return err
	}
	if s.credits == nil {
		s.credits = make(map[uuid.UUID]int64)
	}
	s.credits[beneficiaryID] += amount
	return nil
}

func (s *processRepoStub) IncrementReferredDonationStats(ctx context.Context, userID uuid.UUID, amount int64) error {
	s.statsCalls++
	s.statsAmount = amount
	return nil
}

func (s *processRepoStub) MarkDonationCommissionProcessed(ctx context.Context, donationID uuid.UUID) error {
	s.markProcessed = append(s.markProcessed, donationID)
	return nil
}

func TestProcessDistributionCreditsOnlyInsertedRows(t *testing.T) {
	users, stub := volunteerChainStub()
	// Pretend the recipient's row already existed; only the two ancestors were
	// newly inserted.
	stub.insertedIDs = []uuid.UUID{users[1].ID, users[2].ID}
	svc := newTestService(stub)

	donationID := uuid.New()
	_, err := svc.ProcessCommissionDistribution(context.Background(), donationID, users[0].ID, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(stub.credits) != 2 {
		t.Fatalf("expected 2 wallet credits, got %d", len(stub.credits))
	}
	if stub.credits[users[1].ID] != 50_000 || stub.credits[users[2].ID] != 20_000 {
		t.Fatalf("unexpected credit amounts: %v", stub.credits)
	}
	if stub.statsCalls != 1 || stub.statsAmount != 1_000_000 {
		t.Fatalf("referral stats not incremented once with full amount")
	}
	if len(stub.markProcessed) != 1 || stub.markProcessed[0] != donationID {
		t.Fatalf("donation not marked processed")
	}
}

func TestProcessDistributionIdempotentReplay(t *testing.T) {
	users, stub := volunteerChainStub()
	stub.insertedIDs = nil // conflict on every row: this donation was already distributed
	svc := newTestService(stub)

	dist, err := svc.ProcessCommissionDistribution(context.Background(), uuid.New(), users[0].ID, 1_000_000)
	if err != nil {
		t.Fatalf("replay must not error: %v", err)
	}
	if dist == nil {
		t.Fatal("replay should still return the computed distribution")
	}
	if len(stub.credits) != 0 {
		t.Fatalf("replay must not credit wallets, got %v", stub.credits)
	}
	if stub.statsCalls != 0 {
		t.Fatal("replay must not increment referral stats")
	}
	if len(stub.markProcessed) != 0 {
		t.Fatal("replay must not touch the donation row")
	}
}

func TestProcessDistributionWalletFailureNotFatal(t *testing.T) {
	users, stub := volunteerChainStub()
	stub.insertedIDs = []uuid.UUID{users[0].ID, users[1].ID, users[2].ID}
	stub.creditErrFor = map[uuid.UUID]error{users[1].ID: errors.New("wallet store down")}
	svc := newTestService(stub)

	_, err := svc.ProcessCommissionDistribution(context.Background(), uuid.New(), users[0].ID, 1_000_000)
	if err != nil {
		t.Fatalf("a single wallet failure must not fail the batch: %v", err)
	}
	if stub.credits[users[2].ID] != 20_000 {
		t.Fatal("later beneficiaries must still be credited")
	}
	if len(stub.markProcessed) != 1 {
		t.Fatal("donation must still be marked processed")
	}
}

func TestProcessDistributionLedgerFailureIsFatal(t *testing.T) {
	users, stub := volunteerChainStub()
	stub.createErr = errors.New("ledger unavailable")
	svc := newTestService(stub)

	_, err := svc.ProcessCommissionDistribution(context.Background(), uuid.New(), users[0].ID, 1_000_000)
	if err == nil {
		t.Fatal("ledger failure must surface to the caller")
	}
	if len(stub.credits) != 0 {
		t.Fatal("no wallet may be credited without a ledger row")
	}
}

// volunteerChainStub builds volunteer -> block -> district with a process stub.
func volunteerChainStub() ([]*domain.User, *processRepoStub) {
	h, users := chain(domain.RoleVolunteer, domain.RoleBlockCoordinator, domain.RoleDistrictCoordinator)
	return users, &processRepoStub{hierarchyRepoStub: *h}
}
