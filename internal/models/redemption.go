package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RedemptionStatus is the lifecycle state of a voucher redemption.
type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "PENDING"
	RedemptionIssued    RedemptionStatus = "ISSUED"
	RedemptionFailed    RedemptionStatus = "FAILED"
	RedemptionCancelled RedemptionStatus = "CANCELLED"
)

// CanTransitionTo enforces the forward-only lifecycle: PENDING may move to
// ISSUED, FAILED, or CANCELLED; everything else is terminal.
func (s RedemptionStatus) CanTransitionTo(next RedemptionStatus) bool {
	if s != RedemptionPending {
		return false
	}
	switch next {
	case RedemptionIssued, RedemptionFailed, RedemptionCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible.
func (s RedemptionStatus) Terminal() bool {
	return s == RedemptionIssued || s == RedemptionFailed || s == RedemptionCancelled
}

// Redemption represents a voucher created from redeemed credits. Credits are
// debited when the redemption is requested, so pending redemptions hold the
// amount out of the balance until issued, cancelled, or failed.
type Redemption struct {
	ID              string           `db:"redemption_id" json:"redemption_id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	CreditsRedeemed int              `db:"credits_redeemed" json:"credits_redeemed"`
	VoucherValue    decimal.Decimal  `db:"voucher_value" json:"voucher_value"`
	Status          RedemptionStatus `db:"status" json:"status"`
	ReferenceCode   *string          `db:"reference_code" json:"reference_code,omitempty"`
	IssuedBy        *string          `db:"issued_by" json:"issued_by,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	FulfilledAt     *time.Time       `db:"fulfilled_at" json:"fulfilled_at,omitempty"`
}
