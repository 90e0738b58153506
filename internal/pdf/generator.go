package pdf

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/kipyegonline/keyman-contracts/internal/model"
)

type Generator struct {
	fontName string
}

func NewGenerator() *Generator {
	return &Generator{fontName: "Helvetica"}
}

// Generate renders a contract summary: parties, terms, the milestone table
// and the signing record.
func (g *Generator) Generate(doc model.ContractDocument) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont(g.fontName, "B", 14)
	pdf.CellFormat(0, 10, "Construction Contract Summary", "", 1, "C", false, 0, "")

	pdf.SetFont(g.fontName, "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Contract %s", doc.Contract.Code), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Status: %s", doc.Contract.Status), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, "Terms", "", 1, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Total amount: %s %s", formatAmount(doc.Contract.Amount), doc.Contract.Currency), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Duration: %d months", doc.Contract.DurationMonths), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, "Signing", "", 1, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Client (%s): %s", shortID(doc.Contract.InitiatorID.String()), formatSigned(doc.Contract.ClientSigningDate)), "", 1, "L", false, 0, "")
	provider := "unassigned"
	if doc.Contract.ServiceProviderID != nil {
		provider = shortID(doc.Contract.ServiceProviderID.String())
	}
	pdf.CellFormat(0, 6, fmt.Sprintf("Service provider (%s): %s", provider, formatSigned(doc.Contract.ServiceProviderSigningDate)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, "Milestones", "", 1, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 10)

	headers := []string{"Name", "Amount", "Start", "End", "Status"}
	colWidths := []float64{70, 30, 27, 27, 26}
	drawTableRow(pdf, g.fontName, headers, colWidths, true)
	for i := range doc.Contract.Milestones {
		m := &doc.Contract.Milestones[i]
		row := []string{
			m.Name,
			formatAmount(m.Amount),
			formatDate(m.StartDate),
			formatDate(m.EndDate),
			string(m.Status),
		}
		drawTableRow(pdf, g.fontName, row, colWidths, false)
	}

	if doc.Dispute != nil && doc.Dispute.Status == model.DisputeStatusOpen {
		pdf.Ln(4)
		pdf.SetFont(g.fontName, "B", 11)
		pdf.CellFormat(0, 6, fmt.Sprintf("Open dispute: %s (deadline %s)", doc.Dispute.Reason, doc.Dispute.ResolutionDeadline.Format("2006-01-02 15:04")), "", 1, "L", false, 0, "")
	}

	pdf.Ln(6)
	pdf.SetFont(g.fontName, "", 9)
	pdf.CellFormat(0, 5, fmt.Sprintf("Generated %s", doc.GeneratedAt.Format("2006-01-02 15:04")), "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawTableRow(pdf *gofpdf.Fpdf, fontName string, cells []string, widths []float64, header bool) {
	if header {
		pdf.SetFont(fontName, "B", 10)
		pdf.SetFillColor(230, 230, 230)
	} else {
		pdf.SetFont(fontName, "", 10)
		pdf.SetFillColor(255, 255, 255)
	}
	for i, cell := range cells {
		pdf.CellFormat(widths[i], 7, cell, "1", 0, "L", header, 0, "")
	}
	pdf.Ln(-1)
}

func formatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

func formatSigned(t *time.Time) string {
	if t == nil {
		return "not signed"
	}
	return "signed " + t.Format("2006-01-02")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
