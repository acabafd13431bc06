package models

import "time"

// LeaderboardEntry summarises credits received by one student.
type LeaderboardEntry struct {
	StudentID        string `db:"student_id" json:"student_id"`
	DisplayName      string `db:"display_name" json:"display_name"`
	TotalCredits     int    `db:"total_credits" json:"total_credits"`
	RecognitionCount int    `db:"recognition_count" json:"recognition_count"`
	EndorsementCount int    `db:"endorsement_count" json:"endorsement_count"`
}

// Leaderboard is a cached, ordered set of entries for one month bucket.
type Leaderboard struct {
	MonthBucket time.Time          `json:"month_bucket"`
	Entries     []LeaderboardEntry `json:"entries"`
	GeneratedAt time.Time          `json:"generated_at"`
}
