package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"

	"github.com/buildlearn/learning-session/internal/logger"
	"github.com/buildlearn/learning-session/internal/session"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(Config{
		Driver: DriverSQLitePure,
		Path:   filepath.Join(t.TempDir(), "nested", "ledger.db"),
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestNewDriver(t *testing.T) {
	tests := []struct {
		name string
		want Driver
	}{
		{"", PureSQLiteDriver{}},
		{DriverSQLitePure, PureSQLiteDriver{}},
		{DriverSQLite, SQLiteDriver{}},
		{DriverPostgres, PostgreSQLDriver{}},
		{DriverMySQL, MySQLDriver{}},
		{DriverMariaDB, MySQLDriver{}},
	}
	for _, tt := range tests {
		d, err := NewDriver(tt.name)
		require.NoError(t, err, tt.name)
		assert.IsType(t, tt.want, d, tt.name)
	}

	_, err := NewDriver("oracle")
	assert.Error(t, err)
}

func TestServerDrivers_UseDSN(t *testing.T) {
	pg := PostgreSQLDriver{}.Dialector(Config{Driver: DriverPostgres, DSN: "host=ledger-db user=lms dbname=ledger"})
	assert.Equal(t, "postgres", pg.Name())
	pgd, ok := pg.(*postgres.Dialector)
	require.True(t, ok)
	assert.Equal(t, "host=ledger-db user=lms dbname=ledger", pgd.Config.DSN)

	my := MySQLDriver{}.Dialector(Config{Driver: DriverMySQL, DSN: "lms:secret@tcp(ledger-db:3306)/ledger"})
	assert.Equal(t, "mysql", my.Name())
	myd, ok := my.(*mysql.Dialector)
	require.True(t, ok)
	assert.Equal(t, "lms:secret@tcp(ledger-db:3306)/ledger", myd.Config.DSN)

	assert.Equal(t, 4, PostgreSQLDriver{}.MaxOpenConns())
	assert.Equal(t, 1, PureSQLiteDriver{}.MaxOpenConns())
}

func TestOpen_ServerDriverRequiresDSN(t *testing.T) {
	for _, driver := range []string{DriverPostgres, DriverMySQL} {
		_, err := Open(Config{Driver: driver}, logger.Nop())
		assert.ErrorIs(t, err, ErrDSNRequired, driver)
	}
}

func TestConfig_Target(t *testing.T) {
	assert.Equal(t, "/var/lib/ledger.db", Config{Path: "/var/lib/ledger.db"}.Target())
	assert.Equal(t, "dsn", Config{Driver: DriverPostgres, DSN: "host=db password=x"}.Target())
}

func TestLedger_RecordAndSummary(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	subject := session.Subject{CourseID: "course-1", ContentID: "ci-1", ModuleID: "m-1"}

	entries := []session.JournalEntry{
		{Op: session.OpStart, Subject: subject, SessionID: "s-1", At: base},
		{Op: session.OpHeartbeat, Subject: subject, SessionID: "s-1", ElapsedSeconds: 60, Percent: 20, At: base.Add(time.Minute)},
		{Op: session.OpEnd, Subject: subject, SessionID: "s-1", ElapsedSeconds: 95, Percent: 40, Reason: session.ReasonNavigate, At: base.Add(2 * time.Minute)},
		{Op: session.OpStart, Subject: subject, Err: errors.New("502 bad gateway"), At: base.Add(3 * time.Minute)},
		{Op: session.OpEnd, Subject: subject, ElapsedSeconds: 30, Reason: session.ReasonUnload, Err: errors.New("timeout"), Lost: true, At: base.Add(4 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, l.Record(ctx, e))
	}

	s, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), s.Total)
	assert.Equal(t, int64(2), s.Failures)
	assert.Equal(t, int64(1), s.LostSessions)
	assert.Equal(t, int64(30), s.LostSeconds)
	assert.Equal(t, int64(95), s.CommittedSecs)
	assert.Equal(t, map[string]int64{"start": 2, "heartbeat": 1, "end": 2}, s.ByOp)
	require.NotNil(t, s.FirstCommitAt)
	require.NotNil(t, s.LatestCommitAt)
	assert.True(t, base.Equal(*s.FirstCommitAt))
	assert.True(t, base.Add(4*time.Minute).Equal(*s.LatestCommitAt))

	recent, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].Lost)
	assert.Equal(t, "timeout", recent[0].Error)
	assert.False(t, recent[0].Success)
	assert.Equal(t, "unload", recent[0].Reason)
	assert.Equal(t, "502 bad gateway", recent[1].Error)
}

func TestLedger_EmptySummary(t *testing.T) {
	l := openTestLedger(t)
	s, err := l.Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, s.Total)
	assert.Nil(t, s.FirstCommitAt)
	assert.Empty(t, s.ByOp)
}

func TestLedger_Prune(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, l.Record(ctx, session.JournalEntry{
			Op:      session.OpEnd,
			Subject: session.Subject{CourseID: "course-1", ContentID: "section-1"},
			At:      base.Add(time.Duration(i) * 24 * time.Hour),
		}))
	}

	n, err := l.Prune(ctx, base.Add(36*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestLedger_AsTrackerJournal(t *testing.T) {
	l := openTestLedger(t)
	var j session.Journal = l
	require.NoError(t, j.Record(context.Background(), session.JournalEntry{
		Op:      session.OpComplete,
		Subject: session.Subject{CourseID: "course-1", ContentID: "ci-3"},
	}))

	recent, err := l.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, string(session.OpComplete), recent[0].Op)
	assert.False(t, recent[0].OccurredAt.IsZero())
}
