package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ContractStatus string

const (
	ContractStatusPending   ContractStatus = "PENDING"
	ContractStatusActive    ContractStatus = "ACTIVE"
	ContractStatusCompleted ContractStatus = "COMPLETED"
	ContractStatusDisputed  ContractStatus = "DISPUTED"
	ContractStatusCancelled ContractStatus = "CANCELLED"
)

type Contract struct {
	ID                         uuid.UUID
	Code                       string
	InitiatorID                uuid.UUID
	ServiceProviderID          *uuid.UUID
	Amount                     float64
	Currency                   string
	DurationMonths             int
	Status                     ContractStatus
	ClientSigningDate          *time.Time
	ServiceProviderSigningDate *time.Time
	Terms                      datatypes.JSON // title/scope/agreement summary, not interpreted by the engine
	FeeCharged                 bool
	Version                    int64
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
	Milestones                 []Milestone
}

// CanEditTerms reports whether contract terms and the milestone set are
// still mutable. Once the provider signs, both are locked.
func (c *Contract) CanEditTerms() bool {
	return c.ServiceProviderSigningDate == nil
}

func (c *Contract) Milestone(id uuid.UUID) *Milestone {
	for i := range c.Milestones {
		if c.Milestones[i].ID == id {
			return &c.Milestones[i]
		}
	}
	return nil
}

func (c *Contract) MilestoneTotal() float64 {
	total := 0.0
	for i := range c.Milestones {
		total += c.Milestones[i].Amount
	}
	return total
}

// DeriveStatus recomputes the contract-level status from signing state,
// dispute state and milestone progress.
func (c *Contract) DeriveStatus(openDispute bool) ContractStatus {
	if c.Status == ContractStatusCancelled {
		return ContractStatusCancelled
	}
	if openDispute {
		return ContractStatusDisputed
	}
	if c.ServiceProviderSigningDate == nil {
		return ContractStatusPending
	}
	if len(c.Milestones) > 0 && c.allMilestonesCompleted() {
		return ContractStatusCompleted
	}
	return ContractStatusActive
}

func (c *Contract) allMilestonesCompleted() bool {
	for i := range c.Milestones {
		if c.Milestones[i].Status != MilestoneStatusCompleted {
			return false
		}
	}
	return true
}
