package service

import (
	"fmt"
	"time"

	"github.com/kipyegonline/keyman-contracts/internal/model"
)

// The milestone state machine. Each apply function checks the state guards
// for one transition and mutates the milestone in place; nothing is written
// until the caller persists the whole aggregate, so a rejected transition
// leaves the record untouched. Freeze, role and signature checks happen in
// the orchestrator before any of these run.

func applyStart(contract *model.Contract, milestone *model.Milestone, now time.Time) error {
	if contract.ServiceProviderSigningDate == nil {
		return fmt.Errorf("%w: contract has not been accepted by the service provider", ErrGuardViolation)
	}
	switch milestone.Status {
	case model.MilestoneStatusPending:
	case model.MilestoneStatusInProgress, model.MilestoneStatusSupplierCompleted:
		return fmt.Errorf("%w: milestone already started", ErrGuardViolation)
	case model.MilestoneStatusCompleted:
		return fmt.Errorf("%w: milestone already completed", ErrGuardViolation)
	default:
		return fmt.Errorf("%w: milestone cannot be started from %s", ErrGuardViolation, milestone.Status)
	}

	milestone.Status = model.MilestoneStatusInProgress
	milestone.UpdatedAt = now
	return nil
}

func applyProviderComplete(milestone *model.Milestone, now time.Time) error {
	if milestone.Status != model.MilestoneStatusInProgress {
		if milestone.Status == model.MilestoneStatusCompleted || milestone.Status == model.MilestoneStatusSupplierCompleted {
			return fmt.Errorf("%w: milestone already completed", ErrGuardViolation)
		}
		return fmt.Errorf("%w: milestone is not in progress", ErrGuardViolation)
	}
	if milestone.ClientCompletionDate != nil {
		return fmt.Errorf("%w: milestone already completed", ErrGuardViolation)
	}

	completedAt := now
	milestone.ServiceProviderCompletionDate = &completedAt
	milestone.Status = model.MilestoneStatusSupplierCompleted
	milestone.UpdatedAt = now
	return nil
}

// applyClientComplete requires prior provider attestation. The looser path
// that let a client close a milestone straight from in-progress is
// deliberately not supported.
func applyClientComplete(milestone *model.Milestone, now time.Time) error {
	if milestone.Status == model.MilestoneStatusCompleted {
		return fmt.Errorf("%w: milestone already completed", ErrGuardViolation)
	}
	if milestone.ClientCompletionDate != nil {
		return fmt.Errorf("%w: milestone already completed", ErrGuardViolation)
	}
	if milestone.ServiceProviderCompletionDate == nil {
		return fmt.Errorf("%w: milestone cannot be completed until the service provider confirms completion", ErrGuardViolation)
	}
	if milestone.Status != model.MilestoneStatusSupplierCompleted {
		return fmt.Errorf("%w: milestone cannot be completed from %s", ErrGuardViolation, milestone.Status)
	}

	completedAt := now
	milestone.ClientCompletionDate = &completedAt
	milestone.CompletionDate = &completedAt
	milestone.Status = model.MilestoneStatusCompleted
	milestone.UpdatedAt = now
	return nil
}

// applyFail is reachable only through dispute resolution by an admin.
func applyFail(milestone *model.Milestone, now time.Time) error {
	if milestone.IsTerminal() {
		return fmt.Errorf("%w: milestone already %s", ErrGuardViolation, milestone.Status)
	}
	milestone.Status = model.MilestoneStatusFailed
	milestone.UpdatedAt = now
	return nil
}
