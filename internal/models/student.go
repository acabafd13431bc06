package models

import "time"

// Student statuses.
const (
	StudentStatusActive   = "ACTIVE"
	StudentStatusInactive = "INACTIVE"
)

// Student represents a campus user participating in the rewards program.
// Identity is immutable; only status changes over time.
type Student struct {
	ID          string    `db:"student_id" json:"student_id"`
	CampusUID   string    `db:"campus_uid" json:"campus_uid"`
	Email       string    `db:"email" json:"email"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the student may send or redeem credits.
func (s *Student) IsActive() bool {
	return s != nil && s.Status == StudentStatusActive
}
