package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/kipyegonline/keyman-contracts/internal/config"
	"github.com/kipyegonline/keyman-contracts/internal/model"
)

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ContractService is the single entry point for actor intents against a
// contract. Every operation loads the aggregate, evaluates the dispute
// freeze, checks the acting principal, delegates to the state machine and
// persists the result atomically. Operations on the same contract are
// serialized through a per-contract mutex so two racing transitions cannot
// both pass their guards.
type ContractService struct {
	store    ContractStore
	payments PaymentGateway
	notifier Notifier
	log      zerolog.Logger

	feeAmount     float64
	currency      string
	disputeWindow time.Duration

	now func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewContractService(store ContractStore, payments PaymentGateway, notifier Notifier, cfg *config.Config, log zerolog.Logger) *ContractService {
	return &ContractService{
		store:         store,
		payments:      payments,
		notifier:      notifier,
		log:           log,
		feeAmount:     cfg.Contracts.FeeAmount,
		currency:      cfg.Contracts.Currency,
		disputeWindow: cfg.Contracts.DisputeWindow,
		now:           time.Now,
		locks:         make(map[uuid.UUID]*sync.Mutex),
	}
}

// lockContract returns the unlock for the contract's mutex. Entries are
// never evicted, so the map grows with the number of distinct contracts
// touched over the process lifetime (two words per contract).
func (s *ContractService) lockContract(id uuid.UUID) func() {
	s.mu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// loadAggregate fetches the contract with its milestones and the latest
// dispute. A dispute whose window has run out is marked EXPIRED here, so
// expiry needs no timer: it takes effect on the next read or mutation.
func (s *ContractService) loadAggregate(ctx context.Context, contractID uuid.UUID) (*model.Contract, *model.Dispute, error) {
	contract, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, nil, mapNotFound(err)
	}

	dispute, err := s.store.LatestDispute(ctx, contractID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, err
		}
		dispute = nil
	}

	now := s.now()
	if dispute != nil && dispute.LapsedUnmarked(now) {
		dispute.Status = model.DisputeStatusExpired
		if err := s.store.SaveDispute(ctx, dispute); err != nil {
			return nil, nil, err
		}
		contract.Status = contract.DeriveStatus(false)
		if err := s.store.SaveContract(ctx, contract); err != nil {
			return nil, nil, err
		}
	}

	return contract, dispute, nil
}

func openDispute(dispute *model.Dispute, now time.Time) bool {
	return dispute != nil && dispute.IsOpen(now)
}

type MilestoneInput struct {
	Name        string
	Description string
	Amount      float64
	StartDate   time.Time
	EndDate     time.Time
	DueDate     *time.Time
}

func validateMilestoneInput(input MilestoneInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: milestone name is required", ErrInvalidInput)
	}
	if input.Amount < 0 {
		return fmt.Errorf("%w: milestone amount must not be negative", ErrInvalidInput)
	}
	if input.StartDate.IsZero() || input.EndDate.IsZero() {
		return fmt.Errorf("%w: milestone dates are required", ErrInvalidInput)
	}
	if input.EndDate.Before(input.StartDate) {
		return fmt.Errorf("%w: milestone end date must not be before start date", ErrInvalidInput)
	}
	return nil
}

type CreateContractInput struct {
	Principal         model.Principal
	ServiceProviderID *uuid.UUID
	Amount            float64
	DurationMonths    int
	Terms             json.RawMessage
	Milestones        []MilestoneInput
}

type ContractResult struct {
	Contract *model.Contract
	Events   []Event
}

func (s *ContractService) CreateContract(ctx context.Context, input CreateContractInput) (*ContractResult, error) {
	if !input.Principal.IsClient() {
		return nil, fmt.Errorf("%w: only a client can create a contract", ErrPermissionDenied)
	}
	if input.Amount < 0 {
		return nil, fmt.Errorf("%w: contract amount must not be negative", ErrInvalidInput)
	}
	if input.DurationMonths < 0 {
		return nil, fmt.Errorf("%w: duration must not be negative", ErrInvalidInput)
	}

	now := s.now()
	contract := &model.Contract{
		ID:                uuid.New(),
		Code:              buildContractCode(now),
		InitiatorID:       input.Principal.UserID,
		ServiceProviderID: input.ServiceProviderID,
		Amount:            input.Amount,
		Currency:          s.currency,
		DurationMonths:    input.DurationMonths,
		Status:            model.ContractStatusPending,
		ClientSigningDate: &now,
		Terms:             []byte(input.Terms),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	total := 0.0
	for _, m := range input.Milestones {
		if err := validateMilestoneInput(m); err != nil {
			return nil, err
		}
		total += m.Amount
		contract.Milestones = append(contract.Milestones, model.Milestone{
			ID:          uuid.New(),
			ContractID:  contract.ID,
			Name:        m.Name,
			Description: m.Description,
			Amount:      m.Amount,
			StartDate:   m.StartDate,
			EndDate:     m.EndDate,
			DueDate:     m.DueDate,
			Status:      model.MilestoneStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	if len(input.Milestones) > 0 && total != input.Amount {
		return nil, fmt.Errorf("%w: milestone amounts must add up to the contract amount", ErrInvalidInput)
	}

	if err := s.store.CreateContract(ctx, contract); err != nil {
		return nil, err
	}
	return &ContractResult{Contract: contract}, nil
}

type AcceptContractInput struct {
	Principal  model.Principal
	ContractID uuid.UUID
	Signature  string
}

func (s *ContractService) AcceptContract(ctx context.Context, input AcceptContractInput) (*ContractResult, error) {
	if !input.Principal.IsServiceProvider() {
		return nil, fmt.Errorf("%w: only a service provider can accept a contract", ErrPermissionDenied)
	}
	if strings.TrimSpace(input.Signature) == "" {
		return nil, fmt.Errorf("%w: accepting a contract requires a signature", ErrSignatureRequired)
	}

	unlock := s.lockContract(input.ContractID)
	defer unlock()

	contract, dispute, err := s.loadAggregate(ctx, input.ContractID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if openDispute(dispute, now) {
		return nil, fmt.Errorf("%w: dispute must be resolved first", ErrContractFrozen)
	}
	if contract.ServiceProviderSigningDate != nil {
		return nil, fmt.Errorf("%w: contract already accepted", ErrGuardViolation)
	}
	if contract.ServiceProviderID != nil && *contract.ServiceProviderID != input.Principal.UserID {
		return nil, fmt.Errorf("%w: contract is assigned to another provider", ErrPermissionDenied)
	}

	providerID := input.Principal.UserID
	contract.ServiceProviderID = &providerID
	contract.ServiceProviderSigningDate = &now
	contract.Status = contract.DeriveStatus(false)
	contract.UpdatedAt = now

	if err := s.store.SaveContract(ctx, contract); err != nil {
		return nil, err
	}

	events := []Event{ContractAccepted{ContractID: contract.ID, ProviderID: providerID}}
	result := &ContractResult{Contract: contract, Events: events}
	s.dispatch(ctx, contract, events)
	return result, nil
}

type EditContractInput struct {
	Principal      model.Principal
	ContractID     uuid.UUID
	Amount         *float64
	DurationMonths *int
	Terms          json.RawMessage
}

func (s *ContractService) EditContract(ctx context.Context, input EditContractInput) (*ContractResult, error) {
	unlock := s.lockContract(input.ContractID)
	defer unlock()

	contract, dispute, err := s.loadAggregate(ctx, input.ContractID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if openDispute(dispute, now) {
		return nil, fmt.Errorf("%w: dispute must be resolved first", ErrContractFrozen)
	}
	if err := s.requireOwner(contract, input.Principal); err != nil {
		return nil, err
	}
	if !contract.CanEditTerms() {
		return nil, fmt.Errorf("%w: contract terms are locked once the provider has signed", ErrGuardViolation)
	}

	if input.Amount != nil {
		if *input.Amount < 0 {
			return nil, fmt.Errorf("%w: contract amount must not be negative", ErrInvalidInput)
		}
		if len(contract.Milestones) > 0 && contract.MilestoneTotal() != *input.Amount {
			return nil, fmt.Errorf("%w: milestone amounts must add up to the contract amount", ErrInvalidInput)
		}
		contract.Amount = *input.Amount
	}
	if input.DurationMonths != nil {
		if *input.DurationMonths < 0 {
			return nil, fmt.Errorf("%w: duration must not be negative", ErrInvalidInput)
		}
		contract.DurationMonths = *input.DurationMonths
	}
	if len(input.Terms) > 0 {
		contract.Terms = []byte(input.Terms)
	}
	contract.UpdatedAt = now

	if err := s.store.SaveContract(ctx, contract); err != nil {
		return nil, err
	}
	return &ContractResult{Contract: contract}, nil
}

type CancelContractInput struct {
	Principal  model.Principal
	ContractID uuid.UUID
}

// CancelContract withdraws a contract the provider has not yet signed.
// After signing, cancellation goes through dispute resolution instead.
func (s *ContractService) CancelContract(ctx context.Context, input CancelContractInput) (*ContractResult, error) {
	unlock := s.lockContract(input.ContractID)
	defer unlock()

	contract, dispute, err := s.loadAggregate(ctx, input.ContractID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if openDispute(dispute, now) {
		return nil, fmt.Errorf("%w: dispute must be resolved first", ErrContractFrozen)
	}
	if err := s.requireOwner(contract, input.Principal); err != nil {
		return nil, err
	}
	if !contract.CanEditTerms() {
		return nil, fmt.Errorf("%w: a signed contract cannot be cancelled", ErrGuardViolation)
	}

	contract.Status = model.ContractStatusCancelled
	contract.UpdatedAt = now
	if err := s.store.SaveContract(ctx, contract); err != nil {
		return nil, err
	}
	return &ContractResult{Contract: contract}, nil
}

type AddMilestoneInput struct {
	Principal  model.Principal
	ContractID uuid.UUID
	Milestone  MilestoneInput
}

type MilestoneResult struct {
	Contract  *model.Contract
	Milestone *model.Milestone
	Events    []Event
}

func (s *ContractService) AddMilestone(ctx context.Context, input AddMilestoneInput) (*MilestoneResult, error) {
	if err := validateMilestoneInput(input.Milestone); err != nil {
		return nil, err
	}

	unlock := s.lockContract(input.ContractID)
	defer unlock()

	contract, dispute, err := s.loadAggregate(ctx, input.ContractID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if openDispute(dispute, now) {
		return nil, fmt.Errorf("%w: dispute must be resolved first", ErrContractFrozen)
	}
	if err := s.requireOwner(contract, input.Principal); err != nil {
		return nil, err
	}
	if !contract.CanEditTerms() {
		return nil, fmt.Errorf("%w: milestones are locked once the provider has signed", ErrGuardViolation)
	}
	if contract.MilestoneTotal()+input.Milestone.Amount > contract.Amount {
		return nil, fmt.Errorf("%w: milestone amounts must not exceed the contract amount", ErrInvalidInput)
	}

	milestone := model.Milestone{
		ID:          uuid.New(),
		ContractID:  contract.ID,
		Name:        input.Milestone.Name,
		Description: input.Milestone.Description,
		Amount:      input.Milestone.Amount,
		StartDate:   input.Milestone.StartDate,
		EndDate:     input.Milestone.EndDate,
		DueDate:     input.Milestone.DueDate,
		Status:      model.MilestoneStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	contract.Milestones = append(contract.Milestones, milestone)
	contract.UpdatedAt = now

	if err := s.store.SaveContract(ctx, contract); err != nil {
		return nil, err
	}
	return &MilestoneResult{Contract: contract, Milestone: contract.Milestone(milestone.ID)}, nil
}

type EditMilestoneInput struct {
	Principal   model.Principal
	MilestoneID uuid.UUID
	Milestone   MilestoneInput
}

func (s *ContractService) EditMilestone(ctx context.Context, input EditMilestoneInput) (*MilestoneResult, error) {
	if err := validateMilestoneInput(input.Milestone); err != nil {
		return nil, err
	}

	contract, dispute, milestone, unlock, err := s.loadByMilestone(ctx, input.MilestoneID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	if openDispute(dispute, now) {
		return nil, fmt.Errorf("%w: dispute must be resolved first", ErrContractFrozen)
	}
	if err := s.requireOwner(contract, input.Principal); err != nil {
		return nil, err
	}
	if !contract.CanEditTerms() {
		return nil, fmt.Errorf("%w: milestones are locked once the provider has signed", ErrGuardViolation)
	}
	if contract.MilestoneTotal()-milestone.Amount+input.Milestone.Amount > contract.Amount {
		return nil, fmt.Errorf("%w: milestone amounts must not exceed the contract amount", ErrInvalidInput)
	}

	milestone.Name = input.Milestone.Name
	milestone.Description = input.Milestone.Description
	milestone.Amount = input.Milestone.Amount
	milestone.StartDate = input.Milestone.StartDate
	milestone.EndDate = input.Milestone.EndDate
	milestone.DueDate = input.Milestone.DueDate
	milestone.UpdatedAt = now
	contract.UpdatedAt = now

	if err := s.store.SaveContract(ctx, contract); err != nil {
		return nil, err
	}
	return &MilestoneResult{Contract: contract, Milestone: milestone}, nil
}

type DeleteMilestoneInput struct {
	Principal   model.Principal
	MilestoneID uuid.UUID
}

func (s *ContractService) DeleteMilestone(ctx context.Context, input DeleteMilestoneInput) error {
	contract, dispute, milestone, unlock, err := s.loadByMilestone(ctx, input.MilestoneID)
	if err != nil {
		return err
	}
	defer unlock()

	now := s.now()
	if openDispute(dispute, now) {
		return fmt.Errorf("%w: dispute must be resolved first", ErrContractFrozen)
	}
	if err := s.requireOwner(contract, input.Principal); err != nil {
		return err
	}
	if !contract.CanEditTerms() {
		return fmt.Errorf("%w: milestones are locked once the provider has signed", ErrGuardViolation)
	}
	if milestone.Status != model.MilestoneStatusPending {
		return fmt.Errorf("%w: only pending milestones can be deleted", ErrGuardViolation)
	}

	return s.store.DeleteMilestone(ctx, contract.ID, milestone.ID)
}

type TransitionInput struct {
	Principal   model.Principal
	MilestoneID uuid.UUID
	Signature   string
}

func (s *ContractService) StartMilestone(ctx context.Context, input TransitionInput) (*MilestoneResult, error) {
	if strings.TrimSpace(input.Signature) == "" {
		return nil, fmt.Errorf("%w: starting a milestone requires a signature", ErrSignatureRequired)
	}

	contract, dispute, milestone, unlock, err := s.loadByMilestone(ctx, input.MilestoneID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	if openDispute(dispute, now) {
		return nil, fmt.Errorf("%w: dispute must be resolved first", ErrContractFrozen)
	}
	if err := s.requireOwner(contract, input.Principal); err != nil {
		return nil, err
	}

	from := milestone.Status
	if err := applyStart(contract, milestone, now); err != nil {
		return nil, err
	}

	var events []Event
	fee := 0.0
	if !contract.FeeCharged {
		fee = s.feeAmount
		contract.FeeCharged = true
	}
	if milestone.Amount > 0 || fee > 0 {
		events = append(events, PaymentRequired{
			ContractID:  contract.ID,
			MilestoneID: milestone.ID,
			PayerID:     contract.InitiatorID,
			Amount:      milestone.Amount,
			ContractFee: fee,
		})
	}
	contract.UpdatedAt = now

	if err := s.store.SaveContract(ctx, contract); err != nil {
		return nil, err
	}
	s.audit(ctx, contract, milestone, model.TransitionActionStart, from, input)

	result := &MilestoneResult{Contract: contract, Milestone: milestone, Events: events}
	s.dispatch(ctx, contract, events)
	return result, nil
}

func (s *ContractService) CompleteMilestone(ctx context.Context, input TransitionInput) (*MilestoneResult, error) {
	if strings.TrimSpace(input.Signature) == "" {
		return nil, fmt.Errorf("%w: completing a milestone requires a signature", ErrSignatureRequired)
	}

	contract, dispute, milestone, unlock, err := s.loadByMilestone(ctx, input.MilestoneID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	if openDispute(dispute, now) {
		return nil, fmt.Errorf("%w: dispute must be resolved first", ErrContractFrozen)
	}

	from := milestone.Status
	var action model.TransitionAction
	var events []Event

	switch {
	case input.Principal.IsServiceProvider():
		if contract.ServiceProviderID == nil || *contract.ServiceProviderID != input.Principal.UserID {
			return nil, fmt.Errorf("%w: not a party to this contract", ErrPermissionDenied)
		}
		if err := applyProviderComplete(milestone, now); err != nil {
			return nil, err
		}
		action = model.TransitionActionProviderComplete

	case input.Principal.IsClient():
		if contract.InitiatorID != input.Principal.UserID {
			return nil, fmt.Errorf("%w: not a party to this contract", ErrPermissionDenied)
		}
		if err := applyClientComplete(milestone, now); err != nil {
			return nil, err
		}
		action = model.TransitionActionClientComplete
		events = append(events, MilestoneCompleted{
			ContractID:  contract.ID,
			MilestoneID: milestone.ID,
			Amount:      milestone.Amount,
		})

	default:
		return nil, fmt.Errorf("%w: only contract parties can complete a milestone", ErrPermissionDenied)
	}

	contract.Status = contract.DeriveStatus(false)
	contract.UpdatedAt = now
	if contract.Status == model.ContractStatusCompleted {
		events = append(events, ContractCompleted{ContractID: contract.ID})
	}

	if err := s.store.SaveContract(ctx, contract); err != nil {
		return nil, err
	}
	s.audit(ctx, contract, milestone, action, from, input)

	result := &MilestoneResult{Contract: contract, Milestone: milestone, Events: events}
	s.dispatch(ctx, contract, events)
	return result, nil
}

type RaiseDisputeInput struct {
	Principal   model.Principal
	ContractID  uuid.UUID
	MilestoneID *uuid.UUID
	Reason      string
	Summary     string
}

type DisputeResult struct {
	Contract *model.Contract
	Dispute  *model.Dispute
	Events   []Event
}

func (s *ContractService) RaiseDispute(ctx context.Context, input RaiseDisputeInput) (*DisputeResult, error) {
	if strings.TrimSpace(input.Reason) == "" {
		return nil, fmt.Errorf("%w: dispute reason is required", ErrInvalidInput)
	}
	if len(strings.TrimSpace(input.Summary)) < 20 {
		return nil, fmt.Errorf("%w: dispute summary must be at least 20 characters", ErrInvalidInput)
	}

	unlock := s.lockContract(input.ContractID)
	defer unlock()

	contract, existing, err := s.loadAggregate(ctx, input.ContractID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if openDispute(existing, now) {
		return nil, fmt.Errorf("%w: a dispute is already open on this contract", ErrGuardViolation)
	}

	var complainant model.ComplainantType
	switch {
	case input.Principal.IsClient() && contract.InitiatorID == input.Principal.UserID:
		complainant = model.ComplainantCustomer
	case input.Principal.IsServiceProvider() && contract.ServiceProviderID != nil && *contract.ServiceProviderID == input.Principal.UserID:
		complainant = model.ComplainantSupplier
	default:
		return nil, fmt.Errorf("%w: only contract parties can raise a dispute", ErrPermissionDenied)
	}

	if input.MilestoneID != nil && contract.Milestone(*input.MilestoneID) == nil {
		return nil, fmt.Errorf("%w: milestone does not belong to this contract", ErrNotFound)
	}

	dispute := &model.Dispute{
		ID:                 uuid.New(),
		ContractID:         contract.ID,
		MilestoneID:        input.MilestoneID,
		Reason:             strings.TrimSpace(input.Reason),
		Summary:            strings.TrimSpace(input.Summary),
		ComplainantType:    complainant,
		Status:             model.DisputeStatusOpen,
		RaisedAt:           now,
		ResolutionDeadline: now.Add(s.disputeWindow),
	}
	if err := s.store.CreateDispute(ctx, dispute); err != nil {
		return nil, err
	}

	contract.Status = model.ContractStatusDisputed
	contract.UpdatedAt = now
	if err := s.store.SaveContract(ctx, contract); err != nil {
		return nil, err
	}

	events := []Event{ContractDisputed{ContractID: contract.ID, DisputeID: dispute.ID}}
	result := &DisputeResult{Contract: contract, Dispute: dispute, Events: events}
	s.dispatch(ctx, contract, events)
	return result, nil
}

type ResolveDisputeInput struct {
	Principal     model.Principal
	DisputeID     uuid.UUID
	FailMilestone bool
	Signature     string
}

func (s *ContractService) ResolveDispute(ctx context.Context, input ResolveDisputeInput) (*DisputeResult, error) {
	if !input.Principal.IsAdmin() {
		return nil, fmt.Errorf("%w: only an admin can resolve a dispute", ErrPermissionDenied)
	}

	dispute, err := s.store.GetDispute(ctx, input.DisputeID)
	if err != nil {
		return nil, mapNotFound(err)
	}

	unlock := s.lockContract(dispute.ContractID)
	defer unlock()

	contract, dispute, err := s.loadAggregate(ctx, dispute.ContractID)
	if err != nil {
		return nil, err
	}
	if dispute == nil || dispute.ID != input.DisputeID || dispute.Status != model.DisputeStatusOpen {
		return nil, fmt.Errorf("%w: dispute is no longer open", ErrGuardViolation)
	}

	now := s.now()

	// Every fail-milestone precondition is checked before the dispute is
	// persisted as resolved; a rejected resolution writes nothing.
	var milestone *model.Milestone
	var from model.MilestoneStatus
	if input.FailMilestone {
		if dispute.MilestoneID == nil {
			return nil, fmt.Errorf("%w: dispute has no target milestone to fail", ErrInvalidInput)
		}
		if strings.TrimSpace(input.Signature) == "" {
			return nil, fmt.Errorf("%w: failing a milestone requires a signature", ErrSignatureRequired)
		}
		milestone = contract.Milestone(*dispute.MilestoneID)
		if milestone == nil {
			return nil, fmt.Errorf("%w: milestone does not belong to this contract", ErrNotFound)
		}
		from = milestone.Status
		if err := applyFail(milestone, now); err != nil {
			return nil, err
		}
	}

	resolvedBy := input.Principal.UserID
	dispute.Status = model.DisputeStatusResolved
	dispute.ResolvedAt = &now
	dispute.ResolvedBy = &resolvedBy
	if err := s.store.SaveDispute(ctx, dispute); err != nil {
		return nil, err
	}

	contract.Status = contract.DeriveStatus(false)
	contract.UpdatedAt = now
	if err := s.store.SaveContract(ctx, contract); err != nil {
		return nil, err
	}
	if milestone != nil {
		s.audit(ctx, contract, milestone, model.TransitionActionFail, from, TransitionInput{
			Principal:   input.Principal,
			MilestoneID: milestone.ID,
			Signature:   input.Signature,
		})
	}

	events := []Event{DisputeResolved{ContractID: contract.ID, DisputeID: dispute.ID}}
	result := &DisputeResult{Contract: contract, Dispute: dispute, Events: events}
	s.dispatch(ctx, contract, events)
	return result, nil
}

type GetContractInput struct {
	Principal  model.Principal
	ContractID uuid.UUID
}

// ContractDetails is the read model: stored state plus values derived at
// read time (overdue display statuses, dispute countdown).
type ContractDetails struct {
	Contract         *model.Contract
	Dispute          *model.Dispute
	CountdownSeconds int64
	DisplayStatuses  map[uuid.UUID]model.MilestoneStatus
}

func (s *ContractService) GetContract(ctx context.Context, input GetContractInput) (*ContractDetails, error) {
	unlock := s.lockContract(input.ContractID)
	defer unlock()

	contract, dispute, err := s.loadAggregate(ctx, input.ContractID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParty(contract, input.Principal); err != nil {
		return nil, err
	}

	now := s.now()
	details := &ContractDetails{
		Contract:        contract,
		Dispute:         dispute,
		DisplayStatuses: make(map[uuid.UUID]model.MilestoneStatus, len(contract.Milestones)),
	}
	if dispute != nil {
		details.CountdownSeconds = int64(dispute.Countdown(now).Seconds())
	}
	for i := range contract.Milestones {
		m := &contract.Milestones[i]
		details.DisplayStatuses[m.ID] = m.DisplayStatus(now)
	}
	return details, nil
}

type CashbackInput struct {
	Principal        model.Principal
	ContractID       uuid.UUID
	ReferrerKsNumber string
	Amount           float64
}

type CashbackResult struct {
	Contract *model.Contract
	Quote    CashbackQuote
	Events   []Event
}

// DispatchCashback validates the selected reward against the computed tier
// set before handing it to the wallet collaborator.
func (s *ContractService) DispatchCashback(ctx context.Context, input CashbackInput) (*CashbackResult, error) {
	if strings.TrimSpace(input.ReferrerKsNumber) == "" {
		return nil, fmt.Errorf("%w: referrer KS number is required", ErrInvalidInput)
	}

	unlock := s.lockContract(input.ContractID)
	defer unlock()

	contract, _, err := s.loadAggregate(ctx, input.ContractID)
	if err != nil {
		return nil, err
	}
	if !input.Principal.IsAdmin() {
		if err := s.requireOwner(contract, input.Principal); err != nil {
			return nil, err
		}
	}

	options := ComputeCashbackOptions(contract.Amount)
	valid := false
	for _, option := range options {
		if option == input.Amount {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("%w: %.0f is not an eligible cashback amount for this contract", ErrInvalidInput, input.Amount)
	}

	events := []Event{CashbackApproved{
		ContractID:       contract.ID,
		ReferrerKsNumber: input.ReferrerKsNumber,
		Amount:           input.Amount,
	}}
	result := &CashbackResult{
		Contract: contract,
		Quote:    QuoteCashback(input.ReferrerKsNumber, contract.Amount),
		Events:   events,
	}
	s.dispatch(ctx, contract, events)
	return result, nil
}

func (s *ContractService) requireOwner(contract *model.Contract, principal model.Principal) error {
	if principal.IsClient() && contract.InitiatorID == principal.UserID {
		return nil
	}
	return fmt.Errorf("%w: only the contract owner can do this", ErrPermissionDenied)
}

func (s *ContractService) requireParty(contract *model.Contract, principal model.Principal) error {
	if principal.IsAdmin() {
		return nil
	}
	if principal.IsClient() && contract.InitiatorID == principal.UserID {
		return nil
	}
	if principal.IsServiceProvider() && contract.ServiceProviderID != nil && *contract.ServiceProviderID == principal.UserID {
		return nil
	}
	return fmt.Errorf("%w: not a party to this contract", ErrPermissionDenied)
}

func (s *ContractService) loadByMilestone(ctx context.Context, milestoneID uuid.UUID) (*model.Contract, *model.Dispute, *model.Milestone, func(), error) {
	located, err := s.store.GetContractByMilestone(ctx, milestoneID)
	if err != nil {
		return nil, nil, nil, nil, mapNotFound(err)
	}

	unlock := s.lockContract(located.ID)
	contract, dispute, err := s.loadAggregate(ctx, located.ID)
	if err != nil {
		unlock()
		return nil, nil, nil, nil, err
	}
	milestone := contract.Milestone(milestoneID)
	if milestone == nil {
		unlock()
		return nil, nil, nil, nil, ErrNotFound
	}
	return contract, dispute, milestone, unlock, nil
}

func (s *ContractService) audit(ctx context.Context, contract *model.Contract, milestone *model.Milestone, action model.TransitionAction, from model.MilestoneStatus, input TransitionInput) {
	transition := model.MilestoneTransition{
		ID:          uuid.New(),
		MilestoneID: milestone.ID,
		ContractID:  contract.ID,
		Action:      action,
		ActorID:     input.Principal.UserID,
		ActorRole:   input.Principal.Role,
		Signature:   strings.TrimSpace(input.Signature),
		FromStatus:  from,
		ToStatus:    milestone.Status,
		CreatedAt:   s.now(),
	}
	if err := s.store.AppendTransition(ctx, transition); err != nil {
		s.log.Error().Err(err).
			Str("milestone_id", milestone.ID.String()).
			Str("action", string(action)).
			Msg("failed to record milestone transition")
	}
}

// dispatch hands events to the external collaborators. Failures are logged
// and never fail the operation that produced the events.
func (s *ContractService) dispatch(ctx context.Context, contract *model.Contract, events []Event) {
	for _, event := range events {
		switch ev := event.(type) {
		case PaymentRequired:
			if err := s.payments.Charge(ctx, ev.PayerID, ev.Amount+ev.ContractFee, ev.MilestoneID); err != nil {
				s.log.Error().Err(err).Str("milestone_id", ev.MilestoneID.String()).Msg("payment charge dispatch failed")
			}
		case CashbackApproved:
			if err := s.payments.Payout(ctx, ev.ReferrerKsNumber, ev.Amount, ev.ContractID); err != nil {
				s.log.Error().Err(err).Str("contract_id", ev.ContractID.String()).Msg("cashback payout dispatch failed")
			}
		}
		s.notifyParties(ctx, contract, event)
	}
}

func (s *ContractService) notifyParties(ctx context.Context, contract *model.Contract, event Event) {
	recipients := []uuid.UUID{contract.InitiatorID}
	if contract.ServiceProviderID != nil {
		recipients = append(recipients, *contract.ServiceProviderID)
	}
	for _, userID := range recipients {
		if err := s.notifier.Notify(ctx, userID, event); err != nil {
			s.log.Error().Err(err).
				Str("user_id", userID.String()).
				Str("event", event.EventName()).
				Msg("notification dispatch failed")
		}
	}
}

func buildContractCode(now time.Time) string {
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return fmt.Sprintf("KC-%d-%s", now.Year(), suffix)
}
