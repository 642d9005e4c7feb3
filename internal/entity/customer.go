package entity

import "time"

type Customer struct {
	ID        int64     `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Phone     string    `json:"phone" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EventRole is an access role granted to a staff user on a single event.
type EventRole string

const (
	RoleAdmin       EventRole = "admin"
	RoleManager     EventRole = "manager"
	RoleCoordinator EventRole = "coordinator"
)

// CanVerify reports whether the role may check tickets in at the gate.
func (r EventRole) CanVerify() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleCoordinator:
		return true
	}
	return false
}
