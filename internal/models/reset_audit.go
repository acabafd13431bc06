package models

import "time"

// MonthlyResetAudit records one executed reset per (student, month). The row's
// existence is the idempotency guard for the reset engine, and its amounts
// support troubleshooting and replay.
type MonthlyResetAudit struct {
	ID            string    `db:"audit_id" json:"audit_id"`
	StudentID     string    `db:"student_id" json:"student_id"`
	MonthBucket   time.Time `db:"month_bucket" json:"month_bucket"`
	BaselineGrant int       `db:"baseline_grant" json:"baseline_grant"`
	CarryForward  int       `db:"carry_forward" json:"carry_forward"`
	CappedAmount  int       `db:"capped_amount" json:"capped_amount"`
	ProcessedAt   time.Time `db:"processed_at" json:"processed_at"`
}

// ResetSummary aggregates a full reset run for logging.
type ResetSummary struct {
	StudentsProcessed int `json:"students_processed"`
	StudentsSkipped   int `json:"students_skipped"`
	StudentsFailed    int `json:"students_failed"`
	CarryForwardTotal int `json:"carry_forward_total"`
	ExpiredTotal      int `json:"expired_total"`
}
