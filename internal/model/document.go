package model

import "time"

// ContractDocument is the render input for contract exports (PDF summary,
// milestone statement workbook).
type ContractDocument struct {
	Contract    Contract
	Dispute     *Dispute
	GeneratedAt time.Time
}
