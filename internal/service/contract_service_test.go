package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/kipyegonline/keyman-contracts/internal/config"
	"github.com/kipyegonline/keyman-contracts/internal/model"
)

// memoryStore mimics the Postgres repository: aggregates are cloned on load
// and save, so a rejected transition never leaks mutations into storage.
type memoryStore struct {
	mu          sync.Mutex
	contracts   map[uuid.UUID]*model.Contract
	disputes    map[uuid.UUID]*model.Dispute
	transitions []model.MilestoneTransition
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		contracts: make(map[uuid.UUID]*model.Contract),
		disputes:  make(map[uuid.UUID]*model.Dispute),
	}
}

func cloneContract(c *model.Contract) *model.Contract {
	clone := *c
	clone.Milestones = make([]model.Milestone, len(c.Milestones))
	copy(clone.Milestones, c.Milestones)
	return &clone
}

func cloneDispute(d *model.Dispute) *model.Dispute {
	clone := *d
	return &clone
}

func (s *memoryStore) GetContract(_ context.Context, id uuid.UUID) (*model.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contract, ok := s.contracts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return cloneContract(contract), nil
}

func (s *memoryStore) GetContractByMilestone(_ context.Context, milestoneID uuid.UUID) (*model.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, contract := range s.contracts {
		for i := range contract.Milestones {
			if contract.Milestones[i].ID == milestoneID {
				return cloneContract(contract), nil
			}
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memoryStore) CreateContract(_ context.Context, contract *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	contract.Version = 1
	s.contracts[contract.ID] = cloneContract(contract)
	return nil
}

func (s *memoryStore) SaveContract(_ context.Context, contract *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.contracts[contract.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if stored.Version != contract.Version {
		return ErrConflict
	}
	contract.Version++
	s.contracts[contract.ID] = cloneContract(contract)
	return nil
}

func (s *memoryStore) DeleteMilestone(_ context.Context, contractID, milestoneID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	contract, ok := s.contracts[contractID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for i := range contract.Milestones {
		if contract.Milestones[i].ID == milestoneID {
			contract.Milestones = append(contract.Milestones[:i], contract.Milestones[i+1:]...)
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *memoryStore) GetDispute(_ context.Context, id uuid.UUID) (*model.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dispute, ok := s.disputes[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return cloneDispute(dispute), nil
}

func (s *memoryStore) LatestDispute(_ context.Context, contractID uuid.UUID) (*model.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.Dispute
	for _, dispute := range s.disputes {
		if dispute.ContractID != contractID {
			continue
		}
		if latest == nil || dispute.RaisedAt.After(latest.RaisedAt) {
			latest = dispute
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return cloneDispute(latest), nil
}

func (s *memoryStore) CreateDispute(_ context.Context, dispute *model.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disputes[dispute.ID] = cloneDispute(dispute)
	return nil
}

func (s *memoryStore) SaveDispute(_ context.Context, dispute *model.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disputes[dispute.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	s.disputes[dispute.ID] = cloneDispute(dispute)
	return nil
}

func (s *memoryStore) AppendTransition(_ context.Context, transition model.MilestoneTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, transition)
	return nil
}

type charge struct {
	payerID     uuid.UUID
	amount      float64
	milestoneID uuid.UUID
}

type payout struct {
	referrer string
	amount   float64
}

type fakePayments struct {
	mu      sync.Mutex
	charges []charge
	payouts []payout
}

func (f *fakePayments) Charge(_ context.Context, payerID uuid.UUID, amount float64, milestoneID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges = append(f.charges, charge{payerID: payerID, amount: amount, milestoneID: milestoneID})
	return nil
}

func (f *fakePayments) Payout(_ context.Context, referrer string, amount float64, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payouts = append(f.payouts, payout{referrer: referrer, amount: amount})
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(_ context.Context, _ uuid.UUID, event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event.EventName())
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc      *ContractService
	store    *memoryStore
	payments *fakePayments
	notifier *fakeNotifier
	clock    *fakeClock

	client   model.Principal
	provider model.Principal
	admin    model.Principal
}

func newFixture() *fixture {
	store := newMemoryStore()
	payments := &fakePayments{}
	notifier := &fakeNotifier{}
	clock := &fakeClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}

	cfg := &config.Config{
		Contracts: config.ContractsConfig{
			FeeAmount:     200,
			Currency:      "KES",
			DisputeWindow: 24 * time.Hour,
		},
	}
	svc := NewContractService(store, payments, notifier, cfg, zerolog.Nop())
	svc.now = clock.Now

	return &fixture{
		svc:      svc,
		store:    store,
		payments: payments,
		notifier: notifier,
		clock:    clock,
		client:   model.Principal{UserID: uuid.New(), Role: model.RoleClient},
		provider: model.Principal{UserID: uuid.New(), Role: model.RoleServiceProvider},
		admin:    model.Principal{UserID: uuid.New(), Role: model.RoleAdmin},
	}
}

func (f *fixture) createContract(t *testing.T, amounts ...float64) *model.Contract {
	t.Helper()
	total := 0.0
	var milestones []MilestoneInput
	for i, amount := range amounts {
		total += amount
		start := f.clock.Now().AddDate(0, i, 0)
		due := start.AddDate(0, 1, 0)
		milestones = append(milestones, MilestoneInput{
			Name:      "Phase " + string(rune('A'+i)),
			Amount:    amount,
			StartDate: start,
			EndDate:   start.AddDate(0, 1, 0),
			DueDate:   &due,
		})
	}

	providerID := f.provider.UserID
	result, err := f.svc.CreateContract(context.Background(), CreateContractInput{
		Principal:         f.client,
		ServiceProviderID: &providerID,
		Amount:            total,
		DurationMonths:    len(amounts),
		Milestones:        milestones,
	})
	if err != nil {
		t.Fatalf("CreateContract: %v", err)
	}
	return result.Contract
}

func (f *fixture) acceptedContract(t *testing.T, amounts ...float64) *model.Contract {
	t.Helper()
	contract := f.createContract(t, amounts...)
	result, err := f.svc.AcceptContract(context.Background(), AcceptContractInput{
		Principal:  f.provider,
		ContractID: contract.ID,
		Signature:  "Jane Wanjiru",
	})
	if err != nil {
		t.Fatalf("AcceptContract: %v", err)
	}
	return result.Contract
}

func (f *fixture) storedMilestone(t *testing.T, contractID, milestoneID uuid.UUID) model.Milestone {
	t.Helper()
	contract, err := f.store.GetContract(context.Background(), contractID)
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	milestone := contract.Milestone(milestoneID)
	if milestone == nil {
		t.Fatalf("milestone %s not found", milestoneID)
	}
	return *milestone
}

func TestCreateContract_MilestoneSumMustMatch(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateContract(context.Background(), CreateContractInput{
		Principal: f.client,
		Amount:    10000,
		Milestones: []MilestoneInput{{
			Name:      "Phase A",
			Amount:    4000,
			StartDate: f.clock.Now(),
			EndDate:   f.clock.Now().AddDate(0, 1, 0),
		}},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCreateContract_RequiresClientRole(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateContract(context.Background(), CreateContractInput{
		Principal: f.provider,
		Amount:    1000,
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestAcceptContract(t *testing.T) {
	f := newFixture()
	contract := f.createContract(t, 5000)

	t.Run("requires signature", func(t *testing.T) {
		_, err := f.svc.AcceptContract(context.Background(), AcceptContractInput{
			Principal:  f.provider,
			ContractID: contract.ID,
			Signature:  "   ",
		})
		if !errors.Is(err, ErrSignatureRequired) {
			t.Fatalf("expected signature required, got %v", err)
		}
	})

	t.Run("rejects foreign provider", func(t *testing.T) {
		stranger := model.Principal{UserID: uuid.New(), Role: model.RoleServiceProvider}
		_, err := f.svc.AcceptContract(context.Background(), AcceptContractInput{
			Principal:  stranger,
			ContractID: contract.ID,
			Signature:  "Somebody Else",
		})
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected permission denied, got %v", err)
		}
	})

	t.Run("signs and activates", func(t *testing.T) {
		result, err := f.svc.AcceptContract(context.Background(), AcceptContractInput{
			Principal:  f.provider,
			ContractID: contract.ID,
			Signature:  "Jane Wanjiru",
		})
		if err != nil {
			t.Fatalf("AcceptContract: %v", err)
		}
		if result.Contract.Status != model.ContractStatusActive {
			t.Fatalf("status = %s", result.Contract.Status)
		}
		if result.Contract.ServiceProviderSigningDate == nil {
			t.Fatal("provider signing date not set")
		}
	})

	t.Run("cannot accept twice", func(t *testing.T) {
		_, err := f.svc.AcceptContract(context.Background(), AcceptContractInput{
			Principal:  f.provider,
			ContractID: contract.ID,
			Signature:  "Jane Wanjiru",
		})
		if !errors.Is(err, ErrGuardViolation) {
			t.Fatalf("expected guard violation, got %v", err)
		}
	})
}

func TestStartMilestone_FeeChargedOnceOnFirstStart(t *testing.T) {
	f := newFixture()
	contract := f.acceptedContract(t, 5000, 7000)
	first := contract.Milestones[0]
	second := contract.Milestones[1]

	result, err := f.svc.StartMilestone(context.Background(), TransitionInput{
		Principal:   f.client,
		MilestoneID: first.ID,
		Signature:   "John Kamau",
	})
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(result.Events))
	}
	payment, ok := result.Events[0].(PaymentRequired)
	if !ok {
		t.Fatalf("expected PaymentRequired, got %T", result.Events[0])
	}
	if payment.Amount != 5000 || payment.ContractFee != 200 {
		t.Fatalf("payment = %.0f fee %.0f, want 5000 fee 200", payment.Amount, payment.ContractFee)
	}
	if len(f.payments.charges) != 1 || f.payments.charges[0].amount != 5200 {
		t.Fatalf("charges = %+v, want one of 5200", f.payments.charges)
	}

	result, err = f.svc.StartMilestone(context.Background(), TransitionInput{
		Principal:   f.client,
		MilestoneID: second.ID,
		Signature:   "John Kamau",
	})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	payment = result.Events[0].(PaymentRequired)
	if payment.Amount != 7000 || payment.ContractFee != 0 {
		t.Fatalf("payment = %.0f fee %.0f, want 7000 fee 0", payment.Amount, payment.ContractFee)
	}
	if len(f.payments.charges) != 2 || f.payments.charges[1].amount != 7000 {
		t.Fatalf("charges = %+v", f.payments.charges)
	}
}

func TestStartMilestone_SecondStartRejectedUnchanged(t *testing.T) {
	f := newFixture()
	contract := f.acceptedContract(t, 5000)
	milestone := contract.Milestones[0]

	if _, err := f.svc.StartMilestone(context.Background(), TransitionInput{
		Principal:   f.client,
		MilestoneID: milestone.ID,
		Signature:   "John Kamau",
	}); err != nil {
		t.Fatalf("first start: %v", err)
	}

	before := f.storedMilestone(t, contract.ID, milestone.ID)
	_, err := f.svc.StartMilestone(context.Background(), TransitionInput{
		Principal:   f.client,
		MilestoneID: milestone.ID,
		Signature:   "John Kamau",
	})
	if !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("expected guard violation, got %v", err)
	}
	after := f.storedMilestone(t, contract.ID, milestone.ID)
	if before != after {
		t.Fatalf("rejected start changed stored milestone: %+v vs %+v", before, after)
	}
	if len(f.payments.charges) != 1 {
		t.Fatalf("expected a single charge, got %d", len(f.payments.charges))
	}
}

func TestStartMilestone_SignatureRequired(t *testing.T) {
	f := newFixture()
	contract := f.acceptedContract(t, 5000)

	_, err := f.svc.StartMilestone(context.Background(), TransitionInput{
		Principal:   f.client,
		MilestoneID: contract.Milestones[0].ID,
	})
	if !errors.Is(err, ErrSignatureRequired) {
		t.Fatalf("expected signature required, got %v", err)
	}
}

func TestCompleteMilestone_DualPartyFlow(t *testing.T) {
	f := newFixture()
	contract := f.acceptedContract(t, 5000)
	milestone := contract.Milestones[0]
	ctx := context.Background()

	if _, err := f.svc.StartMilestone(ctx, TransitionInput{
		Principal:   f.client,
		MilestoneID: milestone.ID,
		Signature:   "John Kamau",
	}); err != nil {
		t.Fatalf("start: %v", err)
	}

	// client cannot close before the provider attests
	_, err := f.svc.CompleteMilestone(ctx, TransitionInput{
		Principal:   f.client,
		MilestoneID: milestone.ID,
		Signature:   "John Kamau",
	})
	if !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("expected guard violation, got %v", err)
	}

	result, err := f.svc.CompleteMilestone(ctx, TransitionInput{
		Principal:   f.provider,
		MilestoneID: milestone.ID,
		Signature:   "Jane Wanjiru",
	})
	if err != nil {
		t.Fatalf("provider complete: %v", err)
	}
	if result.Milestone.Status != model.MilestoneStatusSupplierCompleted {
		t.Fatalf("status = %s", result.Milestone.Status)
	}

	result, err = f.svc.CompleteMilestone(ctx, TransitionInput{
		Principal:   f.client,
		MilestoneID: milestone.ID,
		Signature:   "John Kamau",
	})
	if err != nil {
		t.Fatalf("client complete: %v", err)
	}
	if result.Milestone.Status != model.MilestoneStatusCompleted {
		t.Fatalf("status = %s", result.Milestone.Status)
	}
	if result.Milestone.CompletionDate == nil || result.Milestone.ClientCompletionDate == nil {
		t.Fatal("completion dates not set")
	}
	if result.Contract.Status != model.ContractStatusCompleted {
		t.Fatalf("contract status = %s, want COMPLETED with all milestones done", result.Contract.Status)
	}

	foundCompleted := false
	for _, event := range result.Events {
		if _, ok := event.(ContractCompleted); ok {
			foundCompleted = true
		}
	}
	if !foundCompleted {
		t.Fatal("expected ContractCompleted event")
	}
}

func TestFreezeInvariant_AllMutationsBlocked(t *testing.T) {
	f := newFixture()
	contract := f.acceptedContract(t, 5000, 7000)
	first := contract.Milestones[0]
	second := contract.Milestones[1]
	ctx := context.Background()

	if _, err := f.svc.RaiseDispute(ctx, RaiseDisputeInput{
		Principal:  f.client,
		ContractID: contract.ID,
		Reason:     "work not matching scope",
		Summary:    "the foundation depth is far below the agreed specification",
	}); err != nil {
		t.Fatalf("RaiseDispute: %v", err)
	}

	stored, _ := f.store.GetContract(ctx, contract.ID)
	if stored.Status != model.ContractStatusDisputed {
		t.Fatalf("contract status = %s, want DISPUTED", stored.Status)
	}

	for _, milestoneID := range []uuid.UUID{first.ID, second.ID} {
		before := f.storedMilestone(t, contract.ID, milestoneID)
		_, err := f.svc.StartMilestone(ctx, TransitionInput{
			Principal:   f.client,
			MilestoneID: milestoneID,
			Signature:   "John Kamau",
		})
		if !errors.Is(err, ErrContractFrozen) {
			t.Fatalf("milestone %s: expected contract frozen, got %v", milestoneID, err)
		}
		_, err = f.svc.CompleteMilestone(ctx, TransitionInput{
			Principal:   f.provider,
			MilestoneID: milestoneID,
			Signature:   "Jane Wanjiru",
		})
		if !errors.Is(err, ErrContractFrozen) {
			t.Fatalf("milestone %s: expected contract frozen, got %v", milestoneID, err)
		}
		after := f.storedMilestone(t, contract.ID, milestoneID)
		if before != after {
			t.Fatalf("frozen contract milestone changed: %+v vs %+v", before, after)
		}
	}

	amount := 13000.0
	if _, err := f.svc.EditContract(ctx, EditContractInput{
		Principal:  f.client,
		ContractID: contract.ID,
		Amount:     &amount,
	}); !errors.Is(err, ErrContractFrozen) {
		t.Fatalf("EditContract: expected contract frozen, got %v", err)
	}

	if err := f.svc.DeleteMilestone(ctx, DeleteMilestoneInput{
		Principal:   f.client,
		MilestoneID: first.ID,
	}); !errors.Is(err, ErrContractFrozen) {
		t.Fatalf("DeleteMilestone: expected contract frozen, got %v", err)
	}
}

func TestEditLock_AfterProviderSigning(t *testing.T) {
	f := newFixture()
	contract := f.acceptedContract(t, 5000)
	milestone := contract.Milestones[0]
	ctx := context.Background()

	amount := 6000.0
	if _, err := f.svc.EditContract(ctx, EditContractInput{
		Principal:  f.client,
		ContractID: contract.ID,
		Amount:     &amount,
	}); !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("EditContract: expected guard violation, got %v", err)
	}

	if _, err := f.svc.EditMilestone(ctx, EditMilestoneInput{
		Principal:   f.client,
		MilestoneID: milestone.ID,
		Milestone: MilestoneInput{
			Name:      "Phase A",
			Amount:    5000,
			StartDate: f.clock.Now(),
			EndDate:   f.clock.Now().AddDate(0, 1, 0),
		},
	}); !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("EditMilestone: expected guard violation, got %v", err)
	}

	if err := f.svc.DeleteMilestone(ctx, DeleteMilestoneInput{
		Principal:   f.client,
		MilestoneID: milestone.ID,
	}); !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("DeleteMilestone: expected guard violation, got %v", err)
	}
}

func TestMilestoneEditsBeforeSigning(t *testing.T) {
	f := newFixture()
	contract := f.createContract(t, 5000, 5000)
	milestone := contract.Milestones[0]
	ctx := context.Background()

	if _, err := f.svc.EditMilestone(ctx, EditMilestoneInput{
		Principal:   f.client,
		MilestoneID: milestone.ID,
		Milestone: MilestoneInput{
			Name:        "Excavation",
			Description: "site excavation and setout",
			Amount:      4000,
			StartDate:   f.clock.Now(),
			EndDate:     f.clock.Now().AddDate(0, 1, 0),
		},
	}); err != nil {
		t.Fatalf("EditMilestone: %v", err)
	}

	if err := f.svc.DeleteMilestone(ctx, DeleteMilestoneInput{
		Principal:   f.client,
		MilestoneID: milestone.ID,
	}); err != nil {
		t.Fatalf("DeleteMilestone: %v", err)
	}

	stored, _ := f.store.GetContract(ctx, contract.ID)
	if len(stored.Milestones) != 1 {
		t.Fatalf("milestones = %d, want 1", len(stored.Milestones))
	}
}

func TestDisputeLifecycle_CountdownAndLazyExpiry(t *testing.T) {
	f := newFixture()
	contract := f.acceptedContract(t, 120000)
	milestoneID := contract.Milestones[0].ID
	ctx := context.Background()

	if _, err := f.svc.RaiseDispute(ctx, RaiseDisputeInput{
		Principal:   f.provider,
		ContractID:  contract.ID,
		MilestoneID: &milestoneID,
		Reason:      "payment delayed",
		Summary:     "milestone payment has not arrived two weeks after completion",
	}); err != nil {
		t.Fatalf("RaiseDispute: %v", err)
	}

	details, err := f.svc.GetContract(ctx, GetContractInput{Principal: f.client, ContractID: contract.ID})
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if details.Contract.Status != model.ContractStatusDisputed {
		t.Fatalf("status = %s", details.Contract.Status)
	}

	f.clock.Advance(23*time.Hour + 59*time.Minute)
	details, err = f.svc.GetContract(ctx, GetContractInput{Principal: f.client, ContractID: contract.ID})
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if details.CountdownSeconds != 60 {
		t.Fatalf("countdown = %d, want 60", details.CountdownSeconds)
	}
	if details.Dispute.Status != model.DisputeStatusOpen {
		t.Fatalf("dispute status = %s", details.Dispute.Status)
	}

	f.clock.Advance(2 * time.Minute)
	details, err = f.svc.GetContract(ctx, GetContractInput{Principal: f.client, ContractID: contract.ID})
	if err != nil {
		t.Fatalf("GetContract: %v", err)
	}
	if details.Dispute.Status != model.DisputeStatusExpired {
		t.Fatalf("dispute status = %s, want EXPIRED", details.Dispute.Status)
	}
	if details.CountdownSeconds != 0 {
		t.Fatalf("countdown = %d, want 0", details.CountdownSeconds)
	}
	if details.Contract.Status != model.ContractStatusActive {
		t.Fatalf("contract status = %s, want ACTIVE after expiry", details.Contract.Status)
	}

	// with the old dispute expired a new one can be raised
	if _, err := f.svc.RaiseDispute(ctx, RaiseDisputeInput{
		Principal:  f.client,
		ContractID: contract.ID,
		Reason:     "defective finishing",
		Summary:    "plastering on the second floor is cracking within days",
	}); err != nil {
		t.Fatalf("second RaiseDispute: %v", err)
	}
}

func TestRaiseDispute_Validation(t *testing.T) {
	f := newFixture()
	contract := f.acceptedContract(t, 5000)
	ctx := context.Background()

	_, err := f.svc.RaiseDispute(ctx, RaiseDisputeInput{
		Principal:  f.client,
		ContractID: contract.ID,
		Reason:     "bad work",
		Summary:    "too short",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	stranger := model.Principal{UserID: uuid.New(), Role: model.RoleClient}
	_, err = f.svc.RaiseDispute(ctx, RaiseDisputeInput{
		Principal:  stranger,
		ContractID: contract.ID,
		Reason:     "bad work",
		Summary:    "a sufficiently long summary of the complaint here",
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	foreign := uuid.New()
	_, err = f.svc.RaiseDispute(ctx, RaiseDisputeInput{
		Principal:   f.client,
		ContractID:  contract.ID,
		MilestoneID: &foreign,
		Reason:      "bad work",
		Summary:     "a sufficiently long summary of the complaint here",
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for foreign milestone, got %v", err)
	}

	if _, err := f.svc.RaiseDispute(ctx, RaiseDisputeInput{
		Principal:  f.client,
		ContractID: contract.ID,
		Reason:     "bad work on site",
		Summary:    "a sufficiently long summary of the complaint here",
	}); err != nil {
		t.Fatalf("RaiseDispute: %v", err)
	}
	_, err = f.svc.RaiseDispute(ctx, RaiseDisputeInput{
		Principal:  f.client,
		ContractID: contract.ID,
		Reason:     "another complaint",
		Summary:    "a second complaint while the first is still open",
	})
	if !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("expected guard violation for second open dispute, got %v", err)
	}
}

func TestResolveDispute(t *testing.T) {
	f := newFixture()
	contract := f.acceptedContract(t, 5000)
	milestoneID := contract.Milestones[0].ID
	ctx := context.Background()

	raised, err := f.svc.RaiseDispute(ctx, RaiseDisputeInput{
		Principal:   f.client,
		ContractID:  contract.ID,
		MilestoneID: &milestoneID,
		Reason:      "abandoned works",
		Summary:     "the provider has not been on site for three weeks",
	})
	if err != nil {
		t.Fatalf("RaiseDispute: %v", err)
	}

	_, err = f.svc.ResolveDispute(ctx, ResolveDisputeInput{
		Principal: f.client,
		DisputeID: raised.Dispute.ID,
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied for non-admin, got %v", err)
	}

	result, err := f.svc.ResolveDispute(ctx, ResolveDisputeInput{
		Principal:     f.admin,
		DisputeID:     raised.Dispute.ID,
		FailMilestone: true,
		Signature:     "Dispute Panel",
	})
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if result.Dispute.Status != model.DisputeStatusResolved {
		t.Fatalf("dispute status = %s", result.Dispute.Status)
	}

	milestone := f.storedMilestone(t, contract.ID, milestoneID)
	if milestone.Status != model.MilestoneStatusFailed {
		t.Fatalf("milestone status = %s, want FAILED", milestone.Status)
	}

	stored, _ := f.store.GetContract(ctx, contract.ID)
	if stored.Status != model.ContractStatusActive {
		t.Fatalf("contract status = %s, want ACTIVE after resolution", stored.Status)
	}
}

func TestResolveDispute_RejectedFailWritesNothing(t *testing.T) {
	f := newFixture()
	contract := f.acceptedContract(t, 5000)
	milestoneID := contract.Milestones[0].ID
	ctx := context.Background()

	if _, err := f.svc.StartMilestone(ctx, TransitionInput{
		Principal:   f.client,
		MilestoneID: milestoneID,
		Signature:   "John Kamau",
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.CompleteMilestone(ctx, TransitionInput{
		Principal:   f.provider,
		MilestoneID: milestoneID,
		Signature:   "Jane Wanjiru",
	}); err != nil {
		t.Fatalf("provider complete: %v", err)
	}
	if _, err := f.svc.CompleteMilestone(ctx, TransitionInput{
		Principal:   f.client,
		MilestoneID: milestoneID,
		Signature:   "John Kamau",
	}); err != nil {
		t.Fatalf("client complete: %v", err)
	}

	raised, err := f.svc.RaiseDispute(ctx, RaiseDisputeInput{
		Principal:   f.client,
		ContractID:  contract.ID,
		MilestoneID: &milestoneID,
		Reason:      "wrong materials",
		Summary:     "the delivered cement grade differs from what the contract lists",
	})
	if err != nil {
		t.Fatalf("RaiseDispute: %v", err)
	}

	assertDisputeStillOpen := func(t *testing.T) {
		t.Helper()
		storedDispute, err := f.store.GetDispute(ctx, raised.Dispute.ID)
		if err != nil {
			t.Fatalf("GetDispute: %v", err)
		}
		if storedDispute.Status != model.DisputeStatusOpen {
			t.Fatalf("dispute status = %s, want OPEN after rejected resolution", storedDispute.Status)
		}
		stored, _ := f.store.GetContract(ctx, contract.ID)
		if stored.Status != model.ContractStatusDisputed {
			t.Fatalf("contract status = %s, want DISPUTED after rejected resolution", stored.Status)
		}
	}

	// a completed milestone cannot be failed
	_, err = f.svc.ResolveDispute(ctx, ResolveDisputeInput{
		Principal:     f.admin,
		DisputeID:     raised.Dispute.ID,
		FailMilestone: true,
		Signature:     "Dispute Panel",
	})
	if !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("expected guard violation for terminal milestone, got %v", err)
	}
	assertDisputeStillOpen(t)

	_, err = f.svc.ResolveDispute(ctx, ResolveDisputeInput{
		Principal:     f.admin,
		DisputeID:     raised.Dispute.ID,
		FailMilestone: true,
	})
	if !errors.Is(err, ErrSignatureRequired) {
		t.Fatalf("expected signature required, got %v", err)
	}
	assertDisputeStillOpen(t)

	milestone := f.storedMilestone(t, contract.ID, milestoneID)
	if milestone.Status != model.MilestoneStatusCompleted {
		t.Fatalf("milestone status = %s, want COMPLETED untouched", milestone.Status)
	}

	// still resolvable without failing the milestone
	result, err := f.svc.ResolveDispute(ctx, ResolveDisputeInput{
		Principal: f.admin,
		DisputeID: raised.Dispute.ID,
	})
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if result.Dispute.Status != model.DisputeStatusResolved {
		t.Fatalf("dispute status = %s", result.Dispute.Status)
	}
	if result.Contract.Status != model.ContractStatusCompleted {
		t.Fatalf("contract status = %s, want COMPLETED after resolution", result.Contract.Status)
	}
}

func TestCancelContract(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	pending := f.createContract(t, 5000)
	result, err := f.svc.CancelContract(ctx, CancelContractInput{
		Principal:  f.client,
		ContractID: pending.ID,
	})
	if err != nil {
		t.Fatalf("CancelContract: %v", err)
	}
	if result.Contract.Status != model.ContractStatusCancelled {
		t.Fatalf("status = %s", result.Contract.Status)
	}

	signed := f.acceptedContract(t, 5000)
	_, err = f.svc.CancelContract(ctx, CancelContractInput{
		Principal:  f.client,
		ContractID: signed.ID,
	})
	if !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("expected guard violation for signed contract, got %v", err)
	}
}

func TestDispatchCashback(t *testing.T) {
	f := newFixture()
	contract := f.acceptedContract(t, 120000)
	ctx := context.Background()

	_, err := f.svc.DispatchCashback(ctx, CashbackInput{
		Principal:        f.client,
		ContractID:       contract.ID,
		ReferrerKsNumber: "KS-1042",
		Amount:           200,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for non-member amount, got %v", err)
	}
	if len(f.payments.payouts) != 0 {
		t.Fatal("rejected cashback still dispatched a payout")
	}

	result, err := f.svc.DispatchCashback(ctx, CashbackInput{
		Principal:        f.client,
		ContractID:       contract.ID,
		ReferrerKsNumber: "KS-1042",
		Amount:           180,
	})
	if err != nil {
		t.Fatalf("DispatchCashback: %v", err)
	}
	if result.Quote.Recommended != 180 {
		t.Fatalf("recommended = %.0f", result.Quote.Recommended)
	}
	if len(f.payments.payouts) != 1 || f.payments.payouts[0].amount != 180 || f.payments.payouts[0].referrer != "KS-1042" {
		t.Fatalf("payouts = %+v", f.payments.payouts)
	}
}

func TestTransitionAudit_RecordsSignatures(t *testing.T) {
	f := newFixture()
	contract := f.acceptedContract(t, 5000)
	milestone := contract.Milestones[0]
	ctx := context.Background()

	if _, err := f.svc.StartMilestone(ctx, TransitionInput{
		Principal:   f.client,
		MilestoneID: milestone.ID,
		Signature:   "John Kamau",
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.CompleteMilestone(ctx, TransitionInput{
		Principal:   f.provider,
		MilestoneID: milestone.ID,
		Signature:   "Jane Wanjiru",
	}); err != nil {
		t.Fatalf("provider complete: %v", err)
	}

	if len(f.store.transitions) != 2 {
		t.Fatalf("transitions = %d, want 2", len(f.store.transitions))
	}
	start := f.store.transitions[0]
	if start.Action != model.TransitionActionStart || start.Signature != "John Kamau" || start.ActorRole != model.RoleClient {
		t.Fatalf("unexpected start audit: %+v", start)
	}
	attest := f.store.transitions[1]
	if attest.Action != model.TransitionActionProviderComplete || attest.Signature != "Jane Wanjiru" {
		t.Fatalf("unexpected attest audit: %+v", attest)
	}
	if attest.FromStatus != model.MilestoneStatusInProgress || attest.ToStatus != model.MilestoneStatusSupplierCompleted {
		t.Fatalf("unexpected audit statuses: %+v", attest)
	}
}

func TestConcurrentStart_OnlyOneSucceeds(t *testing.T) {
	f := newFixture()
	contract := f.acceptedContract(t, 5000)
	milestone := contract.Milestones[0]

	var wg sync.WaitGroup
	outcomes := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.StartMilestone(context.Background(), TransitionInput{
				Principal:   f.client,
				MilestoneID: milestone.ID,
				Signature:   "John Kamau",
			})
			outcomes <- err
		}()
	}
	wg.Wait()
	close(outcomes)

	succeeded, rejected := 0, 0
	for err := range outcomes {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrGuardViolation):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("succeeded = %d rejected = %d, want 1/1", succeeded, rejected)
	}
	if len(f.payments.charges) != 1 {
		t.Fatalf("charges = %d, want exactly one", len(f.payments.charges))
	}
}
