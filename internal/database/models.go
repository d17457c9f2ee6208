package database

import "time"

// CommitRecord is one row of the commit ledger
type CommitRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Op             string    `gorm:"index;not null" json:"op"`
	CourseID       string    `gorm:"index" json:"course_id"`
	ContentID      string    `json:"content_id,omitempty"`
	ModuleID       string    `json:"module_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	Percent        float64   `json:"percent"`
	Reason         string    `json:"reason,omitempty"`
	Success        bool      `json:"success"`
	Lost           bool      `gorm:"index" json:"lost"`
	Stale          bool      `json:"stale"`
	Error          string    `gorm:"type:text" json:"error,omitempty"`
	OccurredAt     time.Time `gorm:"index" json:"occurred_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary aggregates the ledger
type Summary struct {
	Total          int64            `json:"total"`
	Failures       int64            `json:"failures"`
	LostSessions   int64            `json:"lost_sessions"`
	LostSeconds    int64            `json:"lost_seconds"`
	CommittedSecs  int64            `json:"committed_seconds"`
	ByOp           map[string]int64 `json:"by_op"`
	FirstCommitAt  *time.Time       `json:"first_commit_at,omitempty"`
	LatestCommitAt *time.Time       `json:"latest_commit_at,omitempty"`
}
