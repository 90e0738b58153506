package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/kipyegonline/keyman-contracts/internal/model"
)

// ContractStore is the persistence boundary. Contracts are loaded and saved
// as whole aggregates (milestones included) in a single transaction; the
// contract is the only transaction root.
type ContractStore interface {
	GetContract(ctx context.Context, id uuid.UUID) (*model.Contract, error)
	GetContractByMilestone(ctx context.Context, milestoneID uuid.UUID) (*model.Contract, error)
	CreateContract(ctx context.Context, contract *model.Contract) error
	SaveContract(ctx context.Context, contract *model.Contract) error
	DeleteMilestone(ctx context.Context, contractID, milestoneID uuid.UUID) error

	GetDispute(ctx context.Context, id uuid.UUID) (*model.Dispute, error)
	LatestDispute(ctx context.Context, contractID uuid.UUID) (*model.Dispute, error)
	CreateDispute(ctx context.Context, dispute *model.Dispute) error
	SaveDispute(ctx context.Context, dispute *model.Dispute) error

	AppendTransition(ctx context.Context, transition model.MilestoneTransition) error
}

// PaymentGateway is the external payment collaborator.
type PaymentGateway interface {
	Charge(ctx context.Context, payerID uuid.UUID, amount float64, milestoneID uuid.UUID) error
	Payout(ctx context.Context, referrerKsNumber string, amount float64, contractID uuid.UUID) error
}

// Notifier is the external notification collaborator.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event Event) error
}
