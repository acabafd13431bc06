package models

import "time"

// Recognition captures one credit transfer between two distinct students.
// Immutable once created except for endorsement_count, which only grows.
type Recognition struct {
	ID                 string    `db:"recognition_id" json:"recognition_id"`
	SenderID           string    `db:"sender_id" json:"sender_id"`
	ReceiverID         string    `db:"receiver_id" json:"receiver_id"`
	CreditsTransferred int       `db:"credits_transferred" json:"credits_transferred"`
	Message            *string   `db:"message" json:"message,omitempty"`
	MonthBucket        time.Time `db:"month_bucket" json:"month_bucket"`
	EndorsementCount   int       `db:"endorsement_count" json:"endorsement_count"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// RecognitionFilter restricts recognition listings.
type RecognitionFilter struct {
	SenderID   string
	ReceiverID string
	Limit      int
	Offset     int
}
