package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kipyegonline/keyman-contracts/internal/http/middleware"
	"github.com/kipyegonline/keyman-contracts/internal/model"
	"github.com/kipyegonline/keyman-contracts/internal/service"
)

type Handler struct {
	contracts *service.ContractService
	exports   *service.ExportService
	log       zerolog.Logger
}

func NewHandler(contracts *service.ContractService, exports *service.ExportService, log zerolog.Logger) *Handler {
	return &Handler{contracts: contracts, exports: exports, log: log}
}

func (h *Handler) Register(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	protected := router.Group("/")
	protected.Use(authMiddleware)

	protected.POST("/contracts", h.createContract)
	protected.GET("/contracts/:id", h.getContract)
	protected.PATCH("/contracts/:id", h.editContract)
	protected.POST("/contracts/:id/accept", h.acceptContract)
	protected.POST("/contracts/:id/cancel", h.cancelContract)
	protected.POST("/contracts/:id/milestones", h.addMilestone)
	protected.POST("/contracts/:id/disputes", h.raiseDispute)
	protected.POST("/contracts/:id/cashback", h.dispatchCashback)
	protected.GET("/contracts/:id/export/pdf", h.exportContractPDF)
	protected.GET("/contracts/:id/export/statement", h.exportStatement)

	protected.PATCH("/milestones/:id", h.editMilestone)
	protected.DELETE("/milestones/:id", h.deleteMilestone)
	protected.POST("/milestones/:id/start", h.startMilestone)
	protected.POST("/milestones/:id/complete", h.completeMilestone)

	protected.POST("/disputes/:id/resolve", h.resolveDispute)
	protected.GET("/cashback/quote", h.cashbackQuote)
}

type milestoneRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	StartDate   string  `json:"start_date" binding:"required"`
	EndDate     string  `json:"end_date" binding:"required"`
	DueDate     string  `json:"due_date"`
}

func (r milestoneRequest) toInput() (service.MilestoneInput, error) {
	start, err := parseDate(r.StartDate)
	if err != nil {
		return service.MilestoneInput{}, err
	}
	end, err := parseDate(r.EndDate)
	if err != nil {
		return service.MilestoneInput{}, err
	}
	input := service.MilestoneInput{
		Name:        r.Name,
		Description: r.Description,
		Amount:      r.Amount,
		StartDate:   start,
		EndDate:     end,
	}
	if strings.TrimSpace(r.DueDate) != "" {
		due, err := parseDate(r.DueDate)
		if err != nil {
			return service.MilestoneInput{}, err
		}
		input.DueDate = &due
	}
	return input, nil
}

type createContractRequest struct {
	ServiceProviderID string             `json:"service_provider_id"`
	Amount            float64            `json:"amount"`
	DurationMonths    int                `json:"duration_months"`
	Terms             json.RawMessage    `json:"terms"`
	Milestones        []milestoneRequest `json:"milestones"`
}

func (h *Handler) createContract(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return
	}

	var req createContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input := service.CreateContractInput{
		Principal:      principal,
		Amount:         req.Amount,
		DurationMonths: req.DurationMonths,
		Terms:          req.Terms,
	}
	if strings.TrimSpace(req.ServiceProviderID) != "" {
		providerID, err := uuid.Parse(strings.TrimSpace(req.ServiceProviderID))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid service_provider_id"})
			return
		}
		input.ServiceProviderID = &providerID
	}
	for _, m := range req.Milestones {
		milestone, err := m.toInput()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone dates"})
			return
		}
		input.Milestones = append(input.Milestones, milestone)
	}

	result, err := h.contracts.CreateContract(c.Request.Context(), input)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contractResponseFrom(result.Contract))
}

func (h *Handler) getContract(c *gin.Context) {
	principal, contractID, ok := h.principalAndID(c)
	if !ok {
		return
	}

	details, err := h.contracts.GetContract(c.Request.Context(), service.GetContractInput{
		Principal:  principal,
		ContractID: contractID,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, contractDetailsResponseFrom(details))
}

type editContractRequest struct {
	Amount         *float64        `json:"amount"`
	DurationMonths *int            `json:"duration_months"`
	Terms          json.RawMessage `json:"terms"`
}

func (h *Handler) editContract(c *gin.Context) {
	principal, contractID, ok := h.principalAndID(c)
	if !ok {
		return
	}

	var req editContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.contracts.EditContract(c.Request.Context(), service.EditContractInput{
		Principal:      principal,
		ContractID:     contractID,
		Amount:         req.Amount,
		DurationMonths: req.DurationMonths,
		Terms:          req.Terms,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, contractResponseFrom(result.Contract))
}

type signatureRequest struct {
	Signature string `json:"signature" binding:"required"`
}

func (h *Handler) acceptContract(c *gin.Context) {
	principal, contractID, ok := h.principalAndID(c)
	if !ok {
		return
	}

	var req signatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.contracts.AcceptContract(c.Request.Context(), service.AcceptContractInput{
		Principal:  principal,
		ContractID: contractID,
		Signature:  req.Signature,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, contractResponseFrom(result.Contract))
}

func (h *Handler) cancelContract(c *gin.Context) {
	principal, contractID, ok := h.principalAndID(c)
	if !ok {
		return
	}

	result, err := h.contracts.CancelContract(c.Request.Context(), service.CancelContractInput{
		Principal:  principal,
		ContractID: contractID,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, contractResponseFrom(result.Contract))
}

func (h *Handler) addMilestone(c *gin.Context) {
	principal, contractID, ok := h.principalAndID(c)
	if !ok {
		return
	}

	var req milestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	input, err := req.toInput()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone dates"})
		return
	}

	result, err := h.contracts.AddMilestone(c.Request.Context(), service.AddMilestoneInput{
		Principal:  principal,
		ContractID: contractID,
		Milestone:  input,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, milestoneResponseFrom(result.Milestone))
}

func (h *Handler) editMilestone(c *gin.Context) {
	principal, milestoneID, ok := h.principalAndID(c)
	if !ok {
		return
	}

	var req milestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	input, err := req.toInput()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone dates"})
		return
	}

	result, err := h.contracts.EditMilestone(c.Request.Context(), service.EditMilestoneInput{
		Principal:   principal,
		MilestoneID: milestoneID,
		Milestone:   input,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, milestoneResponseFrom(result.Milestone))
}

func (h *Handler) deleteMilestone(c *gin.Context) {
	principal, milestoneID, ok := h.principalAndID(c)
	if !ok {
		return
	}

	err := h.contracts.DeleteMilestone(c.Request.Context(), service.DeleteMilestoneInput{
		Principal:   principal,
		MilestoneID: milestoneID,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) startMilestone(c *gin.Context) {
	h.transitionMilestone(c, h.contracts.StartMilestone)
}

func (h *Handler) completeMilestone(c *gin.Context) {
	h.transitionMilestone(c, h.contracts.CompleteMilestone)
}

func (h *Handler) transitionMilestone(c *gin.Context, apply func(ctx context.Context, input service.TransitionInput) (*service.MilestoneResult, error)) {
	principal, milestoneID, ok := h.principalAndID(c)
	if !ok {
		return
	}

	var req signatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := apply(c.Request.Context(), service.TransitionInput{
		Principal:   principal,
		MilestoneID: milestoneID,
		Signature:   req.Signature,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"milestone": milestoneResponseFrom(result.Milestone),
		"contract":  contractResponseFrom(result.Contract),
		"events":    eventNames(result.Events),
	})
}

type raiseDisputeRequest struct {
	MilestoneID string `json:"milestone_id"`
	Reason      string `json:"reason" binding:"required,min=10"`
	Summary     string `json:"summary" binding:"required,min=20"`
}

func (h *Handler) raiseDispute(c *gin.Context) {
	principal, contractID, ok := h.principalAndID(c)
	if !ok {
		return
	}

	var req raiseDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input := service.RaiseDisputeInput{
		Principal:  principal,
		ContractID: contractID,
		Reason:     req.Reason,
		Summary:    req.Summary,
	}
	if strings.TrimSpace(req.MilestoneID) != "" {
		milestoneID, err := uuid.Parse(strings.TrimSpace(req.MilestoneID))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid milestone_id"})
			return
		}
		input.MilestoneID = &milestoneID
	}

	result, err := h.contracts.RaiseDispute(c.Request.Context(), input)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, disputeResponseFrom(result.Dispute, time.Now()))
}

type resolveDisputeRequest struct {
	FailMilestone bool   `json:"fail_milestone"`
	Signature     string `json:"signature"`
}

func (h *Handler) resolveDispute(c *gin.Context) {
	principal, disputeID, ok := h.principalAndID(c)
	if !ok {
		return
	}

	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.contracts.ResolveDispute(c.Request.Context(), service.ResolveDisputeInput{
		Principal:     principal,
		DisputeID:     disputeID,
		FailMilestone: req.FailMilestone,
		Signature:     req.Signature,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dispute":  disputeResponseFrom(result.Dispute, time.Now()),
		"contract": contractResponseFrom(result.Contract),
	})
}

func (h *Handler) cashbackQuote(c *gin.Context) {
	raw := c.Query("amount")
	amount, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || amount < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	quote := service.QuoteCashback(c.Query("referrer_ks_number"), amount)
	c.JSON(http.StatusOK, gin.H{
		"contract_amount": quote.ContractAmount,
		"options":         quote.Options,
		"recommended":     quote.Recommended,
	})
}

type cashbackRequest struct {
	ReferrerKsNumber string  `json:"referrer_ks_number" binding:"required"`
	Amount           float64 `json:"amount" binding:"required"`
}

func (h *Handler) dispatchCashback(c *gin.Context) {
	principal, contractID, ok := h.principalAndID(c)
	if !ok {
		return
	}

	var req cashbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.contracts.DispatchCashback(c.Request.Context(), service.CashbackInput{
		Principal:        principal,
		ContractID:       contractID,
		ReferrerKsNumber: req.ReferrerKsNumber,
		Amount:           req.Amount,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dispatched":  req.Amount,
		"options":     result.Quote.Options,
		"recommended": result.Quote.Recommended,
	})
}

func (h *Handler) exportContractPDF(c *gin.Context) {
	principal, contractID, ok := h.principalAndID(c)
	if !ok {
		return
	}

	result, err := h.exports.ContractPDF(c.Request.Context(), service.ExportInput{
		Principal:  principal,
		ContractID: contractID,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+result.FileName+"\"")
	c.Data(http.StatusOK, "application/pdf", result.Content)
}

func (h *Handler) exportStatement(c *gin.Context) {
	principal, contractID, ok := h.principalAndID(c)
	if !ok {
		return
	}

	result, err := h.exports.MilestoneStatement(c.Request.Context(), service.ExportInput{
		Principal:  principal,
		ContractID: contractID,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+result.FileName+"\"")
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", result.Content)
}

func (h *Handler) principalAndID(c *gin.Context) (model.Principal, uuid.UUID, bool) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return model.Principal{}, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return model.Principal{}, uuid.Nil, false
	}
	return principal, id, true
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSignatureRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrContractFrozen):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrGuardViolation):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Msg("contract operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, service.ErrInvalidInput
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, service.ErrInvalidInput
}
