package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kipyegonline/keyman-contracts/internal/model"
)

func (r *ContractRepository) GetDispute(ctx context.Context, id uuid.UUID) (*model.Dispute, error) {
	var dispute model.Dispute
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			id,
			contract_id,
			milestone_id,
			reason,
			summary,
			complainant_type,
			status,
			raised_at,
			resolution_deadline,
			resolved_at,
			resolved_by
		FROM disputes
		WHERE id = ?
	`, id).Scan(&dispute).Error
	if err != nil {
		return nil, err
	}
	if dispute.ID == uuid.Nil {
		return nil, gorm.ErrRecordNotFound
	}
	return &dispute, nil
}

// LatestDispute returns the most recently raised dispute for a contract.
// Earlier resolved or expired disputes never block anything, so only the
// newest one matters for the freeze check.
func (r *ContractRepository) LatestDispute(ctx context.Context, contractID uuid.UUID) (*model.Dispute, error) {
	var dispute model.Dispute
	err := r.db.WithContext(ctx).Raw(`
		SELECT
			id,
			contract_id,
			milestone_id,
			reason,
			summary,
			complainant_type,
			status,
			raised_at,
			resolution_deadline,
			resolved_at,
			resolved_by
		FROM disputes
		WHERE contract_id = ?
		ORDER BY raised_at DESC
		LIMIT 1
	`, contractID).Scan(&dispute).Error
	if err != nil {
		return nil, err
	}
	if dispute.ID == uuid.Nil {
		return nil, gorm.ErrRecordNotFound
	}
	return &dispute, nil
}

func (r *ContractRepository) CreateDispute(ctx context.Context, dispute *model.Dispute) error {
	return r.db.WithContext(ctx).Exec(`
		INSERT INTO disputes (
			id, contract_id, milestone_id, reason, summary,
			complainant_type, status, raised_at, resolution_deadline,
			resolved_at, resolved_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		dispute.ID, dispute.ContractID, dispute.MilestoneID, dispute.Reason, dispute.Summary,
		dispute.ComplainantType, dispute.Status, dispute.RaisedAt, dispute.ResolutionDeadline,
		dispute.ResolvedAt, dispute.ResolvedBy,
	).Error
}

func (r *ContractRepository) SaveDispute(ctx context.Context, dispute *model.Dispute) error {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE disputes SET
			status = ?,
			resolved_at = ?,
			resolved_by = ?
		WHERE id = ?
	`, dispute.Status, dispute.ResolvedAt, dispute.ResolvedBy, dispute.ID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
