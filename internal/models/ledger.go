package models

import "time"

// CreditEventType classifies a ledger movement.
type CreditEventType string

const (
	EventRecognitionSent     CreditEventType = "RECOGNITION_SENT"
	EventRecognitionReceived CreditEventType = "RECOGNITION_RECEIVED"
	EventRedemption          CreditEventType = "REDEMPTION"
	EventRedemptionRefund    CreditEventType = "REDEMPTION_REFUND"
	EventMonthlyReset        CreditEventType = "MONTHLY_RESET"
	EventCarryForward        CreditEventType = "CARRY_FORWARD"
	EventCarryForwardExpired CreditEventType = "CARRY_FORWARD_EXPIRED"
)

// Sign returns the required sign of the delta for the event type: -1 for
// debits, +1 for credits, 0 for unknown types.
func (t CreditEventType) Sign() int {
	switch t {
	case EventRecognitionSent, EventRedemption, EventCarryForwardExpired:
		return -1
	case EventRecognitionReceived, EventRedemptionRefund, EventMonthlyReset, EventCarryForward:
		return 1
	default:
		return 0
	}
}

// CountsTowardBalance reports whether entries of this type contribute to the
// spendable balance. CARRY_FORWARD_EXPIRED records lapsed allowance for the
// audit trail only; it has no matching positive entry anywhere.
func (t CreditEventType) CountsTowardBalance() bool {
	return t != EventCarryForwardExpired
}

// LedgerEntry is one immutable, signed credit movement. Entries are only ever
// appended; a correction is a new offsetting entry.
type LedgerEntry struct {
	SequenceID    int64           `db:"ledger_entry_id" json:"ledger_entry_id"`
	StudentID     string          `db:"student_id" json:"student_id"`
	RecognitionID *string         `db:"related_recognition" json:"related_recognition,omitempty"`
	RedemptionID  *string         `db:"related_redemption" json:"related_redemption,omitempty"`
	EventType     CreditEventType `db:"event_type" json:"event_type"`
	CreditsDelta  int             `db:"credits_delta" json:"credits_delta"`
	MonthBucket   time.Time       `db:"month_bucket" json:"month_bucket"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// LedgerFilter restricts ledger listings.
type LedgerFilter struct {
	StudentID string
	MonthFrom *time.Time
	MonthTo   *time.Time
	Limit     int
	Offset    int
}
