package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kipyegonline/keyman-contracts/internal/model"
	"github.com/kipyegonline/keyman-contracts/internal/service"
)

// ContractRepository persists contract aggregates in Postgres. The contract
// is the transaction root: milestones are only ever written inside a
// contract-scoped transaction, and deleting a contract cascades.
type ContractRepository struct {
	db *gorm.DB
}

func NewContractRepository(db *gorm.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

func (r *ContractRepository) GetContract(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	var contract model.Contract
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			id,
			code,
			initiator_id,
			service_provider_id,
			amount,
			currency,
			duration_months,
			status,
			client_signing_date,
			service_provider_signing_date,
			terms,
			fee_charged,
			version,
			created_at,
			updated_at
		FROM contracts
		WHERE id = ?
	`, id).Scan(&contract).Error
	if err != nil {
		return nil, err
	}
	if contract.ID == uuid.Nil {
		return nil, gorm.ErrRecordNotFound
	}

	milestones, err := r.listMilestones(ctx, id)
	if err != nil {
		return nil, err
	}
	contract.Milestones = milestones
	return &contract, nil
}

func (r *ContractRepository) GetContractByMilestone(ctx context.Context, milestoneID uuid.UUID) (*model.Contract, error) {
	var contractID uuid.UUID
	err := r.db.WithContext(ctx).Raw(`
		SELECT contract_id FROM milestones WHERE id = ?
	`, milestoneID).Scan(&contractID).Error
	if err != nil {
		return nil, err
	}
	if contractID == uuid.Nil {
		return nil, gorm.ErrRecordNotFound
	}
	return r.GetContract(ctx, contractID)
}

func (r *ContractRepository) listMilestones(ctx context.Context, contractID uuid.UUID) ([]model.Milestone, error) {
	var milestones []model.Milestone
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			id,
			contract_id,
			name,
			description,
			amount,
			start_date,
			end_date,
			due_date,
			completion_date,
			service_provider_completion_date,
			client_completion_date,
			status,
			created_at,
			updated_at
		FROM milestones
		WHERE contract_id = ?
		ORDER BY start_date ASC, created_at ASC
	`, contractID).Scan(&milestones).Error
	if err != nil {
		return nil, err
	}
	return milestones, nil
}

func (r *ContractRepository) CreateContract(ctx context.Context, contract *model.Contract) error {
	now := time.Now()
	if contract.CreatedAt.IsZero() {
		contract.CreatedAt = now
	}
	contract.UpdatedAt = now
	contract.Version = 1

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(`
			INSERT INTO contracts (
				id, code, initiator_id, service_provider_id,
				amount, currency, duration_months, status,
				client_signing_date, service_provider_signing_date,
				terms, fee_charged, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			contract.ID, contract.Code, contract.InitiatorID, contract.ServiceProviderID,
			contract.Amount, contract.Currency, contract.DurationMonths, contract.Status,
			contract.ClientSigningDate, contract.ServiceProviderSigningDate,
			contract.Terms, contract.FeeCharged, contract.Version, contract.CreatedAt, contract.UpdatedAt,
		).Error
		if err != nil {
			return err
		}

		for i := range contract.Milestones {
			if err := insertMilestone(tx, &contract.Milestones[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveContract writes the whole aggregate under an optimistic version check.
// The in-process per-contract lock already serializes writers; the version
// column catches anything running outside that lock (another replica).
func (r *ContractRepository) SaveContract(ctx context.Context, contract *model.Contract) error {
	previous := contract.Version
	contract.Version = previous + 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(`
			UPDATE contracts SET
				code = ?,
				service_provider_id = ?,
				amount = ?,
				currency = ?,
				duration_months = ?,
				status = ?,
				client_signing_date = ?,
				service_provider_signing_date = ?,
				terms = ?,
				fee_charged = ?,
				version = ?,
				updated_at = ?
			WHERE id = ? AND version = ?
		`,
			contract.Code, contract.ServiceProviderID,
			contract.Amount, contract.Currency, contract.DurationMonths, contract.Status,
			contract.ClientSigningDate, contract.ServiceProviderSigningDate,
			contract.Terms, contract.FeeCharged, contract.Version, contract.UpdatedAt,
			contract.ID, previous,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: contract %s", service.ErrConflict, contract.ID)
		}

		for i := range contract.Milestones {
			if err := upsertMilestone(tx, &contract.Milestones[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		contract.Version = previous
		return err
	}
	return nil
}

func (r *ContractRepository) DeleteMilestone(ctx context.Context, contractID, milestoneID uuid.UUID) error {
	result := r.db.WithContext(ctx).Exec(`
		DELETE FROM milestones WHERE id = ? AND contract_id = ?
	`, milestoneID, contractID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *ContractRepository) AppendTransition(ctx context.Context, transition model.MilestoneTransition) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO milestone_transitions (
			id, milestone_id, contract_id, action,
			actor_id, actor_role, signature,
			from_status, to_status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		transition.ID, transition.MilestoneID, transition.ContractID, transition.Action,
		transition.ActorID, transition.ActorRole, transition.Signature,
		transition.FromStatus, transition.ToStatus, transition.CreatedAt,
	).Error
}

func insertMilestone(tx *gorm.DB, m *model.Milestone) error {
	return tx.Exec(`
		INSERT INTO milestones (
			id, contract_id, name, description, amount,
			start_date, end_date, due_date, completion_date,
			service_provider_completion_date, client_completion_date,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.ContractID, m.Name, m.Description, m.Amount,
		m.StartDate, m.EndDate, m.DueDate, m.CompletionDate,
		m.ServiceProviderCompletionDate, m.ClientCompletionDate,
		m.Status, m.CreatedAt, m.UpdatedAt,
	).Error
}

func upsertMilestone(tx *gorm.DB, m *model.Milestone) error {
	return tx.Exec(`
		INSERT INTO milestones (
			id, contract_id, name, description, amount,
			start_date, end_date, due_date, completion_date,
			service_provider_completion_date, client_completion_date,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			amount = EXCLUDED.amount,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			due_date = EXCLUDED.due_date,
			completion_date = EXCLUDED.completion_date,
			service_provider_completion_date = EXCLUDED.service_provider_completion_date,
			client_completion_date = EXCLUDED.client_completion_date,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`,
		m.ID, m.ContractID, m.Name, m.Description, m.Amount,
		m.StartDate, m.EndDate, m.DueDate, m.CompletionDate,
		m.ServiceProviderCompletionDate, m.ClientCompletionDate,
		m.Status, m.CreatedAt, m.UpdatedAt,
	).Error
}
