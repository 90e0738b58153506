package model

import (
	"time"

	"github.com/google/uuid"
)

type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "OPEN"
	DisputeStatusResolved DisputeStatus = "RESOLVED"
	DisputeStatusExpired  DisputeStatus = "EXPIRED"
)

type ComplainantType string

const (
	ComplainantCustomer ComplainantType = "CUSTOMER"
	ComplainantSupplier ComplainantType = "SUPPLIER"
)

type Dispute struct {
	ID                 uuid.UUID
	ContractID         uuid.UUID
	MilestoneID        *uuid.UUID
	Reason             string
	Summary            string
	ComplainantType    ComplainantType
	Status             DisputeStatus
	RaisedAt           time.Time
	ResolutionDeadline time.Time
	ResolvedAt         *time.Time
	ResolvedBy         *uuid.UUID
}

// IsOpen reports whether the dispute still freezes its contract. A dispute
// past its deadline no longer blocks, even before it is marked expired.
func (d *Dispute) IsOpen(now time.Time) bool {
	return d.Status == DisputeStatusOpen && now.Before(d.ResolutionDeadline)
}

// LapsedUnmarked reports an open dispute whose window has run out; callers
// mark it EXPIRED lazily on the next read or mutation.
func (d *Dispute) LapsedUnmarked(now time.Time) bool {
	return d.Status == DisputeStatusOpen && !now.Before(d.ResolutionDeadline)
}

// Countdown returns the remaining resolution window, clamped at zero.
func (d *Dispute) Countdown(now time.Time) time.Duration {
	if d.Status != DisputeStatusOpen {
		return 0
	}
	remaining := d.ResolutionDeadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
