package service

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidInput      = errors.New("invalid input")
	ErrContractFrozen    = errors.New("contract frozen by open dispute")
	ErrGuardViolation    = errors.New("transition not permitted")
	ErrSignatureRequired = errors.New("signature required")
	ErrConflict          = errors.New("concurrent update conflict")
)
