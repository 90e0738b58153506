package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kipyegonline/keyman-contracts/internal/model"
)

type PDFGenerator interface {
	Generate(doc model.ContractDocument) ([]byte, error)
}

type ExcelGenerator interface {
	Generate(doc model.ContractDocument) ([]byte, error)
}

type ExportInput struct {
	Principal  model.Principal
	ContractID uuid.UUID
}

type ExportResult struct {
	FileName string
	Content  []byte
}

// ExportService renders contract documents for download. Reads only.
type ExportService struct {
	store ContractStore
	pdf   PDFGenerator
	excel ExcelGenerator
	now   func() time.Time
}

func NewExportService(store ContractStore, pdf PDFGenerator, excel ExcelGenerator) *ExportService {
	return &ExportService{store: store, pdf: pdf, excel: excel, now: time.Now}
}

func (s *ExportService) ContractPDF(ctx context.Context, input ExportInput) (*ExportResult, error) {
	doc, err := s.buildDocument(ctx, input)
	if err != nil {
		return nil, err
	}

	content, err := s.pdf.Generate(*doc)
	if err != nil {
		return nil, err
	}
	return &ExportResult{
		FileName: buildExportFileName(doc.Contract, "pdf"),
		Content:  content,
	}, nil
}

func (s *ExportService) MilestoneStatement(ctx context.Context, input ExportInput) (*ExportResult, error) {
	doc, err := s.buildDocument(ctx, input)
	if err != nil {
		return nil, err
	}

	content, err := s.excel.Generate(*doc)
	if err != nil {
		return nil, err
	}
	return &ExportResult{
		FileName: buildExportFileName(doc.Contract, "xlsx"),
		Content:  content,
	}, nil
}

func (s *ExportService) buildDocument(ctx context.Context, input ExportInput) (*model.ContractDocument, error) {
	contract, err := s.store.GetContract(ctx, input.ContractID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if err := requireDocumentAccess(contract, input.Principal); err != nil {
		return nil, err
	}

	dispute, err := s.store.LatestDispute(ctx, input.ContractID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		dispute = nil
	}

	return &model.ContractDocument{
		Contract:    *contract,
		Dispute:     dispute,
		GeneratedAt: s.now(),
	}, nil
}

func requireDocumentAccess(contract *model.Contract, principal model.Principal) error {
	if principal.IsAdmin() {
		return nil
	}
	if principal.IsClient() && contract.InitiatorID == principal.UserID {
		return nil
	}
	if principal.IsServiceProvider() && contract.ServiceProviderID != nil && *contract.ServiceProviderID == principal.UserID {
		return nil
	}
	return fmt.Errorf("%w: not a party to this contract", ErrPermissionDenied)
}

func buildExportFileName(contract model.Contract, extension string) string {
	code := sanitizeFileName(contract.Code)
	if code == "" {
		code = contract.ID.String()
	}
	return fmt.Sprintf("contract-%s.%s", code, extension)
}

func sanitizeFileName(input string) string {
	result := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z':
			result = append(result, r)
		case r >= 'A' && r <= 'Z':
			result = append(result, r)
		case r >= '0' && r <= '9':
			result = append(result, r)
		case r == '-', r == '_':
			result = append(result, r)
		default:
			result = append(result, '-')
		}
	}
	return strings.Trim(string(result), "-")
}
