package service

import (
	"github.com/google/uuid"
)

// Event is a domain event handed off to external collaborators after a
// successful operation. Dispatch is fire-and-forget: delivery failures are
// logged and never roll back the operation that produced the event.
type Event interface {
	EventName() string
}

// PaymentRequired asks the payment collaborator to collect the milestone
// amount from the client. ContractFee is non-zero only on the first
// milestone started for a contract.
type PaymentRequired struct {
	ContractID  uuid.UUID
	MilestoneID uuid.UUID
	PayerID     uuid.UUID
	Amount      float64
	ContractFee float64
}

func (PaymentRequired) EventName() string { return "payment_required" }

type ContractAccepted struct {
	ContractID uuid.UUID
	ProviderID uuid.UUID
}

func (ContractAccepted) EventName() string { return "contract_accepted" }

type MilestoneCompleted struct {
	ContractID  uuid.UUID
	MilestoneID uuid.UUID
	Amount      float64
}

func (MilestoneCompleted) EventName() string { return "milestone_completed" }

type ContractCompleted struct {
	ContractID uuid.UUID
}

func (ContractCompleted) EventName() string { return "contract_completed" }

type ContractDisputed struct {
	ContractID uuid.UUID
	DisputeID  uuid.UUID
}

func (ContractDisputed) EventName() string { return "contract_disputed" }

type DisputeResolved struct {
	ContractID uuid.UUID
	DisputeID  uuid.UUID
}

func (DisputeResolved) EventName() string { return "dispute_resolved" }

// CashbackApproved asks the wallet collaborator to pay a referral reward.
type CashbackApproved struct {
	ContractID       uuid.UUID
	ReferrerKsNumber string
	Amount           float64
}

func (CashbackApproved) EventName() string { return "cashback_approved" }
