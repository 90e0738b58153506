package model

import (
	"time"

	"github.com/google/uuid"
)

type MilestoneStatus string

const (
	MilestoneStatusPending           MilestoneStatus = "PENDING"
	MilestoneStatusInProgress        MilestoneStatus = "IN_PROGRESS"
	MilestoneStatusSupplierCompleted MilestoneStatus = "SUPPLIER_COMPLETED"
	MilestoneStatusCompleted         MilestoneStatus = "COMPLETED"
	MilestoneStatusOverdue           MilestoneStatus = "OVERDUE" // display only, never stored
	MilestoneStatusFailed            MilestoneStatus = "FAILED"
)

type Milestone struct {
	ID                            uuid.UUID
	ContractID                    uuid.UUID
	Name                          string
	Description                   string
	Amount                        float64
	StartDate                     time.Time
	EndDate                       time.Time
	DueDate                       *time.Time
	CompletionDate                *time.Time
	ServiceProviderCompletionDate *time.Time
	ClientCompletionDate          *time.Time
	Status                        MilestoneStatus
	CreatedAt                     time.Time
	UpdatedAt                     time.Time
}

// DisplayStatus derives the status shown to users. OVERDUE is computed at
// read time from the due date and is never persisted.
func (m *Milestone) DisplayStatus(now time.Time) MilestoneStatus {
	if m.DueDate != nil && now.After(*m.DueDate) {
		if m.Status == MilestoneStatusPending || m.Status == MilestoneStatusInProgress {
			return MilestoneStatusOverdue
		}
	}
	return m.Status
}

func (m *Milestone) IsTerminal() bool {
	return m.Status == MilestoneStatusCompleted || m.Status == MilestoneStatusFailed
}

type TransitionAction string

const (
	TransitionActionStart            TransitionAction = "START"
	TransitionActionProviderComplete TransitionAction = "PROVIDER_COMPLETE"
	TransitionActionClientComplete   TransitionAction = "CLIENT_COMPLETE"
	TransitionActionFail             TransitionAction = "FAIL"
)

// MilestoneTransition is the audit record written for every applied
// transition. Signature is a free-text attestation, not cryptographic.
type MilestoneTransition struct {
	ID          uuid.UUID
	MilestoneID uuid.UUID
	ContractID  uuid.UUID
	Action      TransitionAction
	ActorID     uuid.UUID
	ActorRole   Role
	Signature   string
	FromStatus  MilestoneStatus
	ToStatus    MilestoneStatus
	CreatedAt   time.Time
}
