package excel

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kipyegonline/keyman-contracts/internal/model"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate builds the milestone payment statement: a summary sheet for the
// contract and a detail sheet listing every milestone with its dual
// completion record.
func (g *Generator) Generate(doc model.ContractDocument) ([]byte, error) {
	file := excelize.NewFile()

	summarySheet := "Summary"
	file.SetSheetName("Sheet1", summarySheet)
	if err := g.writeSummary(file, summarySheet, doc); err != nil {
		return nil, err
	}

	detailSheet := "Milestones"
	file.NewSheet(detailSheet)
	if err := g.writeMilestones(file, detailSheet, doc.Contract); err != nil {
		return nil, err
	}

	file.SetActiveSheet(0)
	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeSummary(file *excelize.File, sheet string, doc model.ContractDocument) error {
	completed := 0
	completedAmount := 0.0
	for i := range doc.Contract.Milestones {
		if doc.Contract.Milestones[i].Status == model.MilestoneStatusCompleted {
			completed++
			completedAmount += doc.Contract.Milestones[i].Amount
		}
	}

	rows := [][]interface{}{
		{"Contract", doc.Contract.Code},
		{"Status", string(doc.Contract.Status)},
		{"Total amount", doc.Contract.Amount},
		{"Currency", doc.Contract.Currency},
		{"Duration (months)", doc.Contract.DurationMonths},
		{"Milestones", len(doc.Contract.Milestones)},
		{"Milestones completed", completed},
		{"Amount released", completedAmount},
		{"Generated", doc.GeneratedAt.Format("2006-01-02 15:04")},
	}
	if doc.Dispute != nil {
		rows = append(rows, []interface{}{"Latest dispute", fmt.Sprintf("%s (%s)", doc.Dispute.Reason, doc.Dispute.Status)})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) writeMilestones(file *excelize.File, sheet string, contract model.Contract) error {
	header := []interface{}{
		"Name", "Amount", "Start", "End", "Due",
		"Status", "Provider confirmed", "Client confirmed", "Completed",
	}
	if err := file.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i := range contract.Milestones {
		m := &contract.Milestones[i]
		row := []interface{}{
			m.Name,
			m.Amount,
			m.StartDate.Format("2006-01-02"),
			m.EndDate.Format("2006-01-02"),
			formatOptionalDate(m.DueDate),
			string(m.Status),
			formatOptionalDate(m.ServiceProviderCompletionDate),
			formatOptionalDate(m.ClientCompletionDate),
			formatOptionalDate(m.CompletionDate),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
