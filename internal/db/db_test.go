package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/inventorama/internal/errors"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/probe"
	"github.com/anstrom/inventorama/internal/scanning"
	"github.com/anstrom/inventorama/internal/targets"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &DB{DB: sqlx.NewDb(conn, "postgres")}, mock
}

func completeRecord(address string) models.ScanRecord {
	rec := models.NewRecord(address, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC))
	rec.Status = models.StatusComplete
	rec.Hostname = "WS-" + address
	return rec
}

var storedColumns = []string{
	"id", "run_id", "address", "status", "scanned_at", "hostname", "last_logged_user",
	"machine_type", "machine_sku", "installed_software", "ram_size", "windows_version",
	"windows_release", "detail", "recorded_at",
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled default", func(*Config) {}, false},
		{"enabled complete", func(c *Config) { c.Enabled, c.Database, c.Username = true, "inv", "inv" }, false},
		{"enabled missing database", func(c *Config) { c.Enabled, c.Username = true, "inv" }, true},
		{"enabled missing user", func(c *Config) { c.Enabled, c.Database = true, "inv" }, true},
		{"enabled missing host", func(c *Config) { c.Enabled, c.Database, c.Username, c.Host = true, "inv", "inv", "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, errors.CodeValidation, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database = "inventory"
	cfg.Username = "scanner"
	cfg.Password = "secret"

	assert.Equal(t,
		"host=localhost port=5432 dbname=inventory user=scanner password=secret sslmode=disable",
		cfg.DSN())
}

func TestSanitizeDBError(t *testing.T) {
	assert.NoError(t, sanitizeDBError("op", nil))
	assert.ErrorIs(t, sanitizeDBError("op", sql.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, sanitizeDBError("op", context.Canceled), context.Canceled)

	tests := []struct {
		code pq.ErrorCode
		want errors.ErrorCode
	}{
		{"23514", errors.CodeValidation},
		{"57014", errors.CodeCanceled},
		{"08006", errors.CodeDatabaseConnection},
		{"42P01", errors.CodeDatabaseQuery},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := sanitizeDBError("insert scan record", &pq.Error{Code: tt.code, Message: "relation scan_records"})
			assert.Equal(t, tt.want, errors.GetCode(err))
			assert.NotContains(t, err.Error(), "relation scan_records")
		})
	}
}

func TestRecordRepositoryInsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)
	runID := uuid.New()
	rec := completeRecord("10.0.0.5")

	mock.ExpectExec("INSERT INTO scan_records").
		WithArgs(runID, "10.0.0.5", "Complete", rec.Timestamp, "WS-10.0.0.5",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), models.NotApplicable).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Insert(context.Background(), runID, rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryInsertRejectsNonTerminal(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)

	rec := models.NewRecord("10.0.0.5", time.Now())
	err := repo.Insert(context.Background(), uuid.New(), rec)

	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryInsertBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)
	runID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scan_records").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO scan_records").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	recs := []models.ScanRecord{completeRecord("10.0.0.5"), completeRecord("10.0.0.6")}
	require.NoError(t, repo.InsertBatch(context.Background(), runID, recs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryInsertBatchRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scan_records").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO scan_records").WillReturnError(&pq.Error{Code: "23514"})
	mock.ExpectRollback()

	recs := []models.ScanRecord{completeRecord("10.0.0.5"), completeRecord("10.0.0.6")}
	err := repo.InsertBatch(context.Background(), uuid.New(), recs)

	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryHistory(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)
	runID := uuid.New()
	scanned := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	rows := sqlmock.NewRows(storedColumns).
		AddRow(2, runID.String(), "10.0.0.5", "Complete", scanned, "WS-1", "alice",
			"OptiPlex", "N/A", "N/A", "16 GB", "Windows 10", "22H2", "N/A", scanned).
		AddRow(1, runID.String(), "10.0.0.5", "NotReachable", scanned.Add(-time.Hour), "N/A", "N/A",
			"N/A", "N/A", "N/A", "N/A", "N/A", "N/A", "Host not reachable", scanned)
	mock.ExpectQuery("SELECT .+ FROM scan_records\\s+WHERE address = \\$1").
		WithArgs("10.0.0.5", defaultHistoryLimit).
		WillReturnRows(rows)

	records, err := repo.History(context.Background(), "10.0.0.5", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, int64(2), records[0].ID)
	assert.Equal(t, runID, records[0].RunID)
	assert.Equal(t, models.StatusComplete, records[0].Status)
	assert.Equal(t, "alice", records[0].LastLoggedUser)
	assert.Equal(t, models.StatusNotReachable, records[1].Status)
	assert.Equal(t, "Host not reachable", records[1].Detail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryHistoryClampsLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)

	mock.ExpectQuery("FROM scan_records").
		WithArgs("10.0.0.5", maxHistoryLimit).
		WillReturnRows(sqlmock.NewRows(storedColumns))

	records, err := repo.History(context.Background(), "10.0.0.5", 5000)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryListByRun(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)
	runID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("WHERE run_id = \\$1 ORDER BY id").
		WithArgs(runID).
		WillReturnRows(sqlmock.NewRows(storedColumns).
			AddRow(7, runID.String(), "10.0.0.9", "Invalid", now, "N/A", "N/A", "N/A",
				"N/A", "N/A", "N/A", "N/A", "N/A", "Invalid IP/Segment", now))

	records, err := repo.ListByRun(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.StatusInvalid, records[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepositoryQueryError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)

	mock.ExpectQuery("FROM scan_records").WillReturnError(&pq.Error{Code: "08006"})

	_, err := repo.History(context.Background(), "10.0.0.5", 10)
	require.Error(t, err)
	assert.Equal(t, errors.CodeDatabaseConnection, errors.GetCode(err))
}

func TestRecordSinkUsesRunID(t *testing.T) {
	db, mock := newMockDB(t)
	sink := NewRecordSink(NewRecordRepository(db))
	assert.Equal(t, "postgres", sink.Name())

	mock.ExpectExec("INSERT INTO scan_records").
		WithArgs(uuid.Nil, "10.0.0.5", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, sink.Write(context.Background(), completeRecord("10.0.0.5")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// runIDArg matches any argument and keeps its value.
type runIDArg struct{ got *string }

func (a runIDArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	*a.got = s
	return ok
}

func TestRecordSinkInOrchestratorRun(t *testing.T) {
	db, mock := newMockDB(t)
	sink := NewRecordSink(NewRecordRepository(db))

	var captured string
	mock.ExpectExec("INSERT INTO scan_records").
		WithArgs(runIDArg{&captured}, "10.0.0.1", "NotReachable", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "Host not reachable").
		WillReturnResult(sqlmock.NewResult(1, 1))

	unreachable := probe.Func(func(context.Context, string, time.Duration) (bool, error) {
		return false, nil
	})
	orch := scanning.NewOrchestrator(unreachable, nil, logging.NewNop(), scanning.WithSinks(sink))

	cfg := models.DefaultScanConfig()
	cfg.Capabilities = models.NoCapabilities
	run, err := orch.Start(context.Background(), targets.Expand(targets.Single("10.0.0.1")), cfg)
	require.NoError(t, err)
	run.Wait()

	assert.Equal(t, run.ID(), captured)
	assert.NoError(t, mock.ExpectationsWereMet())
}
