package models

import "time"

// MonthlyQuota tracks a student's sending allowance for one month bucket.
// One row exists per (student, month); credits_sent only ever grows within
// the month and never exceeds send_limit + carry_forward_credits.
type MonthlyQuota struct {
	ID                  string     `db:"quota_id" json:"quota_id"`
	StudentID           string     `db:"student_id" json:"student_id"`
	MonthBucket         time.Time  `db:"month_bucket" json:"month_bucket"`
	CreditsSent         int        `db:"credits_sent" json:"credits_sent"`
	SendLimit           int        `db:"send_limit" json:"send_limit"`
	CarryForwardApplied bool       `db:"carry_forward_applied" json:"carry_forward_applied"`
	CarryForwardCredits int        `db:"carry_forward_credits" json:"carry_forward_credits"`
	ResetAt             *time.Time `db:"reset_at" json:"reset_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// Allowance is the total the student may send this month.
func (q *MonthlyQuota) Allowance() int {
	return q.SendLimit + q.CarryForwardCredits
}

// Remaining is the unspent portion of the allowance, never negative.
func (q *MonthlyQuota) Remaining() int {
	remaining := q.Allowance() - q.CreditsSent
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CanSend reports whether amount more credits fit within the allowance.
func (q *MonthlyQuota) CanSend(amount int) bool {
	return amount > 0 && q.CreditsSent+amount <= q.Allowance()
}
