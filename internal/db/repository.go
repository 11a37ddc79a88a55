package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/inventorama/internal/errors"
	"github.com/anstrom/inventorama/internal/models"
	"github.com/anstrom/inventorama/internal/scanning"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// StoredRecord is a persisted terminal record.
type StoredRecord struct {
	ID    int64     `db:"id" json:"id"`
	RunID uuid.UUID `db:"run_id" json:"run_id"`
	models.ScanRecord
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

const recordColumns = `id, run_id, address, status, scanned_at, hostname, last_logged_user,
	machine_type, machine_sku, installed_software, ram_size, windows_version,
	windows_release, detail, recorded_at`

const insertRecordQuery = `
	INSERT INTO scan_records (
		run_id, address, status, scanned_at, hostname, last_logged_user,
		machine_type, machine_sku, installed_software, ram_size,
		windows_version, windows_release, detail
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// RecordRepository reads and writes scan record history.
type RecordRepository struct {
	db *DB
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func insertArgs(runID uuid.UUID, rec models.ScanRecord) []any {
	return []any{
		runID, rec.Address, string(rec.Status), rec.Timestamp,
		rec.Hostname, rec.LastLoggedUser, rec.MachineType, rec.MachineSKU,
		rec.InstalledSoftware, rec.RAMSize, rec.WindowsVersion, rec.WindowsRelease,
		rec.Detail,
	}
}

func checkTerminal(rec models.ScanRecord) error {
	if !rec.Status.IsTerminal() {
		return errors.WrapDatabaseError(errors.CodeValidation, "only terminal records can be stored", "insert",
			fmt.Errorf("record %s is %s", rec.Address, rec.Status))
	}
	return nil
}

// Insert stores one terminal record.
func (r *RecordRepository) Insert(ctx context.Context, runID uuid.UUID, rec models.ScanRecord) error {
	if err := checkTerminal(rec); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, insertRecordQuery, insertArgs(runID, rec)...); err != nil {
		return sanitizeDBError("insert scan record", err)
	}
	return nil
}

// InsertBatch stores records in a single transaction.
func (r *RecordRepository) InsertBatch(ctx context.Context, runID uuid.UUID, recs []models.ScanRecord) error {
	for _, rec := range recs {
		if err := checkTerminal(rec); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, insertRecordQuery, insertArgs(runID, rec)...); err != nil {
			return sanitizeDBError("insert scan record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return sanitizeDBError("commit transaction", err)
	}
	return nil
}

// ListByRun returns the records of one run in insertion order.
func (r *RecordRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]StoredRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM scan_records WHERE run_id = $1 ORDER BY id`

	var records []StoredRecord
	if err := r.db.SelectContext(ctx, &records, query, runID); err != nil {
		return nil, sanitizeDBError("list scan records", err)
	}
	return records, nil
}

// History returns the most recent records for address, newest first. A
// non-positive limit uses the default.
func (r *RecordRepository) History(ctx context.Context, address string, limit int) ([]StoredRecord, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	query := `SELECT ` + recordColumns + `
		FROM scan_records
		WHERE address = $1
		ORDER BY scanned_at DESC, id DESC
		LIMIT $2`

	var records []StoredRecord
	if err := r.db.SelectContext(ctx, &records, query, address, limit); err != nil {
		return nil, sanitizeDBError("get host history", err)
	}
	return records, nil
}

// RecordSink stores terminal records as a run publishes them.
type RecordSink struct {
	repo *RecordRepository
}

var _ scanning.Sink = (*RecordSink)(nil)

// NewRecordSink creates a sink writing through repo.
func NewRecordSink(repo *RecordRepository) *RecordSink {
	return &RecordSink{repo: repo}
}

// Name implements scanning.Sink.
func (s *RecordSink) Name() string { return "postgres" }

// Write stores rec under the identifier of the run writing it. Writes
// outside a run are stored under the nil UUID.
func (s *RecordSink) Write(ctx context.Context, rec models.ScanRecord) error {
	runID := uuid.Nil
	if id, ok := scanning.RunIDFrom(ctx); ok {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return errors.WrapDatabaseError(errors.CodeValidation, "invalid run identifier", "insert", err)
		}
		runID = parsed
	}
	return s.repo.Insert(ctx, runID, rec)
}
