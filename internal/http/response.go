package http

import (
	"encoding/json"
	"time"

	"github.com/kipyegonline/keyman-contracts/internal/model"
	"github.com/kipyegonline/keyman-contracts/internal/service"
)

type contractResponse struct {
	ID                         string              `json:"id"`
	Code                       string              `json:"code"`
	InitiatorID                string              `json:"initiator_id"`
	ServiceProviderID          *string             `json:"service_provider_id,omitempty"`
	Amount                     float64             `json:"amount"`
	Currency                   string              `json:"currency"`
	DurationMonths             int                 `json:"duration_months"`
	Status                     string              `json:"status"`
	ClientSigningDate          *time.Time          `json:"client_signing_date,omitempty"`
	ServiceProviderSigningDate *time.Time          `json:"service_provider_signing_date,omitempty"`
	Terms                      json.RawMessage     `json:"terms,omitempty"`
	Milestones                 []milestoneResponse `json:"milestones"`
}

type milestoneResponse struct {
	ID                            string     `json:"id"`
	ContractID                    string     `json:"contract_id"`
	Name                          string     `json:"name"`
	Description                   string     `json:"description,omitempty"`
	Amount                        float64    `json:"amount"`
	StartDate                     time.Time  `json:"start_date"`
	EndDate                       time.Time  `json:"end_date"`
	DueDate                       *time.Time `json:"due_date,omitempty"`
	CompletionDate                *time.Time `json:"completion_date,omitempty"`
	ServiceProviderCompletionDate *time.Time `json:"service_provider_completion_date,omitempty"`
	ClientCompletionDate          *time.Time `json:"client_completion_date,omitempty"`
	Status                        string     `json:"status"`
}

type disputeResponse struct {
	ID                 string     `json:"id"`
	ContractID         string     `json:"contract_id"`
	MilestoneID        *string    `json:"milestone_id,omitempty"`
	Reason             string     `json:"reason"`
	Summary            string     `json:"summary"`
	ComplainantType    string     `json:"complainant_type"`
	Status             string     `json:"status"`
	RaisedAt           time.Time  `json:"raised_at"`
	ResolutionDeadline time.Time  `json:"resolution_deadline"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	CountdownSeconds   int64      `json:"countdown_seconds"`
}

type contractDetailsResponse struct {
	Contract contractResponse `json:"contract"`
	Dispute  *disputeResponse `json:"dispute,omitempty"`
}

func contractResponseFrom(contract *model.Contract) contractResponse {
	resp := contractResponse{
		ID:                         contract.ID.String(),
		Code:                       contract.Code,
		InitiatorID:                contract.InitiatorID.String(),
		Amount:                     contract.Amount,
		Currency:                   contract.Currency,
		DurationMonths:             contract.DurationMonths,
		Status:                     string(contract.Status),
		ClientSigningDate:          contract.ClientSigningDate,
		ServiceProviderSigningDate: contract.ServiceProviderSigningDate,
		Terms:                      json.RawMessage(contract.Terms),
		Milestones:                 make([]milestoneResponse, 0, len(contract.Milestones)),
	}
	if contract.ServiceProviderID != nil {
		providerID := contract.ServiceProviderID.String()
		resp.ServiceProviderID = &providerID
	}
	for i := range contract.Milestones {
		resp.Milestones = append(resp.Milestones, milestoneResponseFrom(&contract.Milestones[i]))
	}
	return resp
}

func milestoneResponseFrom(milestone *model.Milestone) milestoneResponse {
	return milestoneResponse{
		ID:                            milestone.ID.String(),
		ContractID:                    milestone.ContractID.String(),
		Name:                          milestone.Name,
		Description:                   milestone.Description,
		Amount:                        milestone.Amount,
		StartDate:                     milestone.StartDate,
		EndDate:                       milestone.EndDate,
		DueDate:                       milestone.DueDate,
		CompletionDate:                milestone.CompletionDate,
		ServiceProviderCompletionDate: milestone.ServiceProviderCompletionDate,
		ClientCompletionDate:          milestone.ClientCompletionDate,
		Status:                        string(milestone.Status),
	}
}

func disputeResponseFrom(dispute *model.Dispute, now time.Time) *disputeResponse {
	if dispute == nil {
		return nil
	}
	return disputeResponseWithCountdown(dispute, int64(dispute.Countdown(now).Seconds()))
}

func disputeResponseWithCountdown(dispute *model.Dispute, countdownSeconds int64) *disputeResponse {
	resp := disputeResponse{
		ID:                 dispute.ID.String(),
		ContractID:         dispute.ContractID.String(),
		Reason:             dispute.Reason,
		Summary:            dispute.Summary,
		ComplainantType:    string(dispute.ComplainantType),
		Status:             string(dispute.Status),
		RaisedAt:           dispute.RaisedAt,
		ResolutionDeadline: dispute.ResolutionDeadline,
		ResolvedAt:         dispute.ResolvedAt,
		CountdownSeconds:   countdownSeconds,
	}
	if dispute.MilestoneID != nil {
		milestoneID := dispute.MilestoneID.String()
		resp.MilestoneID = &milestoneID
	}
	return &resp
}

func contractDetailsResponseFrom(details *service.ContractDetails) contractDetailsResponse {
	resp := contractDetailsResponse{
		Contract: contractResponseFrom(details.Contract),
	}
	// display statuses carry the derived OVERDUE marker; the response
	// milestones are built in model order, so indexes line up
	for i := range details.Contract.Milestones {
		if status, ok := details.DisplayStatuses[details.Contract.Milestones[i].ID]; ok {
			resp.Contract.Milestones[i].Status = string(status)
		}
	}
	if details.Dispute != nil {
		resp.Dispute = disputeResponseWithCountdown(details.Dispute, details.CountdownSeconds)
	}
	return resp
}

func eventNames(events []service.Event) []string {
	names := make([]string, 0, len(events))
	for _, event := range events {
		names = append(names, event.EventName())
	}
	return names
}
