package service

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kipyegonline/keyman-contracts/internal/model"
)

func machineContract(accepted bool) *model.Contract {
	contract := &model.Contract{
		ID:          uuid.New(),
		InitiatorID: uuid.New(),
	}
	if accepted {
		providerID := uuid.New()
		signedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		contract.ServiceProviderID = &providerID
		contract.ServiceProviderSigningDate = &signedAt
	}
	return contract
}

func machineMilestone(contract *model.Contract, status model.MilestoneStatus) *model.Milestone {
	return &model.Milestone{
		ID:         uuid.New(),
		ContractID: contract.ID,
		Name:       "Foundation",
		Amount:     5000,
		Status:     status,
	}
}

func TestApplyStart(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("requires provider acceptance", func(t *testing.T) {
		contract := machineContract(false)
		milestone := machineMilestone(contract, model.MilestoneStatusPending)
		if err := applyStart(contract, milestone, now); !errors.Is(err, ErrGuardViolation) {
			t.Fatalf("expected guard violation, got %v", err)
		}
		if milestone.Status != model.MilestoneStatusPending {
			t.Fatalf("rejected transition changed status to %s", milestone.Status)
		}
	})

	t.Run("moves pending to in progress", func(t *testing.T) {
		contract := machineContract(true)
		milestone := machineMilestone(contract, model.MilestoneStatusPending)
		if err := applyStart(contract, milestone, now); err != nil {
			t.Fatalf("start: %v", err)
		}
		if milestone.Status != model.MilestoneStatusInProgress {
			t.Fatalf("status = %s", milestone.Status)
		}
	})

	t.Run("second start is rejected", func(t *testing.T) {
		contract := machineContract(true)
		milestone := machineMilestone(contract, model.MilestoneStatusInProgress)
		if err := applyStart(contract, milestone, now); !errors.Is(err, ErrGuardViolation) {
			t.Fatalf("expected guard violation, got %v", err)
		}
	})

	t.Run("completed cannot restart", func(t *testing.T) {
		contract := machineContract(true)
		milestone := machineMilestone(contract, model.MilestoneStatusCompleted)
		if err := applyStart(contract, milestone, now); !errors.Is(err, ErrGuardViolation) {
			t.Fatalf("expected guard violation, got %v", err)
		}
	})
}

func TestDualCompletionOrdering(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	contract := machineContract(true)

	t.Run("client cannot complete before provider attests", func(t *testing.T) {
		milestone := machineMilestone(contract, model.MilestoneStatusInProgress)
		if err := applyClientComplete(milestone, now); !errors.Is(err, ErrGuardViolation) {
			t.Fatalf("expected guard violation, got %v", err)
		}
		if milestone.ClientCompletionDate != nil || milestone.CompletionDate != nil {
			t.Fatal("rejected completion left completion dates set")
		}
	})

	t.Run("provider then client completes exactly once", func(t *testing.T) {
		milestone := machineMilestone(contract, model.MilestoneStatusInProgress)

		if err := applyProviderComplete(milestone, now); err != nil {
			t.Fatalf("provider complete: %v", err)
		}
		if milestone.Status != model.MilestoneStatusSupplierCompleted {
			t.Fatalf("status = %s", milestone.Status)
		}
		if milestone.ServiceProviderCompletionDate == nil {
			t.Fatal("provider completion date not set")
		}

		later := now.Add(2 * time.Hour)
		if err := applyClientComplete(milestone, later); err != nil {
			t.Fatalf("client complete: %v", err)
		}
		if milestone.Status != model.MilestoneStatusCompleted {
			t.Fatalf("status = %s", milestone.Status)
		}
		if milestone.CompletionDate == nil || !milestone.CompletionDate.Equal(later) {
			t.Fatalf("completion date = %v", milestone.CompletionDate)
		}
		if milestone.ClientCompletionDate == nil {
			t.Fatal("client completion date not set")
		}

		if err := applyClientComplete(milestone, later.Add(time.Minute)); !errors.Is(err, ErrGuardViolation) {
			t.Fatalf("second client complete: expected guard violation, got %v", err)
		}
	})

	t.Run("provider cannot attest twice", func(t *testing.T) {
		milestone := machineMilestone(contract, model.MilestoneStatusInProgress)
		if err := applyProviderComplete(milestone, now); err != nil {
			t.Fatalf("provider complete: %v", err)
		}
		if err := applyProviderComplete(milestone, now); !errors.Is(err, ErrGuardViolation) {
			t.Fatalf("expected guard violation, got %v", err)
		}
	})
}

func TestApplyFail(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	contract := machineContract(true)

	milestone := machineMilestone(contract, model.MilestoneStatusInProgress)
	if err := applyFail(milestone, now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if milestone.Status != model.MilestoneStatusFailed {
		t.Fatalf("status = %s", milestone.Status)
	}

	if err := applyFail(milestone, now); !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("failing a terminal milestone: expected guard violation, got %v", err)
	}

	completed := machineMilestone(contract, model.MilestoneStatusCompleted)
	if err := applyFail(completed, now); !errors.Is(err, ErrGuardViolation) {
		t.Fatalf("failing a completed milestone: expected guard violation, got %v", err)
	}
}
