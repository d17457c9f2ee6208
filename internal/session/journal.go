package session

import (
	"context"
	"time"
)

// JournalEntry is one commit outcome. Lost marks elapsed time that never
// reached the server.
type JournalEntry struct {
	Op             Op
	Subject        Subject
	SessionID      string
	ElapsedSeconds int
	Percent        float64
	Reason         EndReason
	Err            error
	Lost           bool
	Stale          bool
	At             time.Time
}

// Journal records commit outcomes for operational visibility. It is write-only
// from the tracker's point of view; nothing is read back into session state.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}
