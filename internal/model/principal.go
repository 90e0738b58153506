package model

import "github.com/google/uuid"

type Role string

const (
	RoleClient          Role = "CLIENT"
	RoleServiceProvider Role = "SERVICE_PROVIDER"
	RoleAdmin           Role = "ADMIN"
)

// Principal is the authenticated actor on whose behalf an operation runs.
// It is always passed explicitly, never read from ambient state.
type Principal struct {
	UserID uuid.UUID
	Role   Role
}

func (p Principal) IsClient() bool          { return p.Role == RoleClient }
func (p Principal) IsServiceProvider() bool { return p.Role == RoleServiceProvider }
func (p Principal) IsAdmin() bool           { return p.Role == RoleAdmin }
