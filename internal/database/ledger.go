package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/buildlearn/learning-session/internal/logger"
	"github.com/buildlearn/learning-session/internal/session"
)

// Ledger stores commit outcomes. Nothing in it is ever read back into a
// session; it only answers operational questions.
type Ledger struct {
	db  *gorm.DB
	log *logger.Logger
}

var _ session.Journal = (*Ledger)(nil)

// Open connects to the ledger database and migrates its schema
func Open(cfg Config, log *logger.Logger) (*Ledger, error) {
	if log == nil {
		log = logger.Get()
	}
	log = log.Component("ledger")

	db, err := connect(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&CommitRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	log.Info("Ledger opened", map[string]interface{}{
		"driver": cfg.Driver,
		"target": cfg.Target(),
	})
	return &Ledger{db: db, log: log}, nil
}

// Record stores one journal entry
func (l *Ledger) Record(ctx context.Context, e session.JournalEntry) error {
	rec := CommitRecord{
		Op:             string(e.Op),
		CourseID:       e.Subject.CourseID,
		ContentID:      e.Subject.ContentID,
		ModuleID:       e.Subject.ModuleID,
		SessionID:      e.SessionID,
		ElapsedSeconds: e.ElapsedSeconds,
		Percent:        e.Percent,
		Reason:         string(e.Reason),
		Success:        e.Err == nil,
		Lost:           e.Lost,
		Stale:          e.Stale,
		OccurredAt:     e.At,
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}
	if err := l.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record %s commit: %w", rec.Op, err)
	}
	return nil
}

// Recent returns the latest records, newest first
func (l *Ledger) Recent(ctx context.Context, limit int) ([]CommitRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []CommitRecord
	err := l.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger records: %w", err)
	}
	return out, nil
}

// Summary aggregates every record in the ledger
func (l *Ledger) Summary(ctx context.Context) (*Summary, error) {
	s := &Summary{ByOp: make(map[string]int64)}
	if err := l.model(ctx).Count(&s.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	if s.Total == 0 {
		return s, nil
	}
	if err := l.model(ctx).Where("success = ?", false).Count(&s.Failures).Error; err != nil {
		return nil, fmt.Errorf("failed to count failures: %w", err)
	}
	if err := l.model(ctx).Where("lost = ?", true).Count(&s.LostSessions).Error; err != nil {
		return nil, fmt.Errorf("failed to count lost sessions: %w", err)
	}
	if err := l.model(ctx).Where("lost = ?", true).
		Select("COALESCE(SUM(elapsed_seconds), 0)").Scan(&s.LostSeconds).Error; err != nil {
		return nil, fmt.Errorf("failed to sum lost time: %w", err)
	}
	if err := l.model(ctx).Where("op = ? AND success = ?", string(session.OpEnd), true).
		Select("COALESCE(SUM(elapsed_seconds), 0)").Scan(&s.CommittedSecs).Error; err != nil {
		return nil, fmt.Errorf("failed to sum committed time: %w", err)
	}

	var rows []struct {
		Op    string
		Count int64
	}
	if err := l.model(ctx).Select("op, COUNT(*) AS count").Group("op").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to group records: %w", err)
	}
	for _, r := range rows {
		s.ByOp[r.Op] = r.Count
	}

	var first, latest CommitRecord
	if err := l.db.WithContext(ctx).Order("occurred_at asc").First(&first).Error; err != nil {
		return nil, fmt.Errorf("failed to read first record: %w", err)
	}
	if err := l.db.WithContext(ctx).Order("occurred_at desc").First(&latest).Error; err != nil {
		return nil, fmt.Errorf("failed to read latest record: %w", err)
	}
	s.FirstCommitAt = &first.OccurredAt
	s.LatestCommitAt = &latest.OccurredAt
	return s, nil
}

// Prune deletes records that occurred before cutoff
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := l.db.WithContext(ctx).Where("occurred_at < ?", cutoff).Delete(&CommitRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune ledger: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		l.log.Info("Pruned ledger", map[string]interface{}{
			"deleted": res.RowsAffected,
			"cutoff":  cutoff.Format(time.RFC3339),
		})
	}
	return res.RowsAffected, nil
}

// Close closes the database connection
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}
	return nil
}

func (l *Ledger) model(ctx context.Context) *gorm.DB {
	return l.db.WithContext(ctx).Model(&CommitRecord{})
}
