package output

import (
	"bytes"
	"context"
	"encoding/csv"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/anstrom/inventorama/internal/errors"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/models"
)

var errLocked = stderrors.New("file is locked")

// CSVSink appends records to a CSV file. Every value is quoted and the file
// starts with exactly one header row. Writers are serialized in-process by
// a mutex and across processes by an exclusive advisory lock.
type CSVSink struct {
	path   string
	logger *logging.Logger
	mu     sync.Mutex
}

// NewCSVSink creates a sink for path. The file is not touched until the
// first write.
func NewCSVSink(path string, logger *logging.Logger) *CSVSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CSVSink{
		path:   path,
		logger: logger.WithComponent("output"),
	}
}

// Path returns the destination file.
func (s *CSVSink) Path() string {
	return s.path
}

// EnsureHeader makes the file start with the header for columns. A missing
// or empty file gets the header written, a file without a header gets it
// prepended, and a stale header row (first field "IP") is replaced.
func (s *CSVSink) EnsureHeader(columns []Column) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFile(os.O_RDWR|os.O_CREATE, func(f *os.File) error {
		return ensureHeader(f, formatRow(Names(columns)))
	})
}

// Append writes one record, repairing the header first if needed.
func (s *CSVSink) Append(rec models.ScanRecord, columns []Column) error {
	return s.AppendAll([]models.ScanRecord{rec}, columns)
}

// AppendAll writes records in order under a single lock. The header check
// happens under the same lock, so the file always starts with exactly one
// header matching columns.
func (s *CSVSink) AppendAll(records []models.ScanRecord, columns []Column) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFile(os.O_RDWR|os.O_CREATE, func(f *os.File) error {
		if err := ensureHeader(f, formatRow(Names(columns))); err != nil {
			return err
		}
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return err
		}
		var b strings.Builder
		for _, rec := range records {
			b.WriteString(formatRow(Values(rec, columns)))
		}
		_, err := io.WriteString(f, b.String())
		return err
	})
}

// ensureHeader reads only the header length when the file already starts
// with header; anything else rewrites the file with header in front.
func ensureHeader(f *os.File, header string) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	prefix := make([]byte, len(header))
	n, err := io.ReadFull(f, prefix)
	if err != nil && !stderrors.Is(err, io.EOF) && !stderrors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	if n == len(header) && string(prefix) == header {
		return nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	content, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	firstLine, rest, found := bytes.Cut(content, []byte("\n"))
	switch {
	case len(content) == 0:
		rest = nil
	case isHeaderRow(firstLine):
		if !found {
			rest = nil
		}
	default:
		rest = content
		if !bytes.HasSuffix(rest, []byte("\n")) {
			rest = append(rest, '\n')
		}
	}

	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.WriteString(f, header); err != nil {
		return err
	}
	_, err = f.Write(rest)
	return err
}

// Truncate empties the file so the next write starts a fresh header.
func (s *CSVSink) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withFile(os.O_WRONLY|os.O_CREATE|os.O_TRUNC, func(*os.File) error { return nil })
}

func (s *CSVSink) withFile(flag int, fn func(*os.File) error) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return errors.NewPersistenceError(errors.CodeFileWrite, s.path, err)
		}
	}
	f, err := os.OpenFile(s.path, flag, 0o644)
	if err != nil {
		return errors.NewPersistenceError(errors.CodeFileWrite, s.path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("failed to close output file", "path", s.path, "error", cerr)
		}
	}()

	if err := lockFile(f); err != nil {
		if stderrors.Is(err, errLocked) {
			return errors.NewPersistenceError(errors.CodeFileLocked, s.path, err)
		}
		return errors.NewPersistenceError(errors.CodeFileWrite, s.path, err)
	}
	defer func() {
		if uerr := unlockFile(f); uerr != nil {
			s.logger.Warn("failed to unlock output file", "path", s.path, "error", uerr)
		}
	}()

	if err := fn(f); err != nil {
		return errors.NewPersistenceError(errors.CodeFileWrite, s.path, err)
	}
	return nil
}

// Writer binds the sink to a column set for use as a scan sink.
func (s *CSVSink) Writer(columns []Column) *Writer {
	return &Writer{sink: s, columns: columns}
}

// Writer appends each record it receives to a CSVSink.
type Writer struct {
	sink    *CSVSink
	columns []Column
}

// Name identifies the sink in metrics and logs.
func (w *Writer) Name() string { return "csv" }

// Prepare ensures the header before the first record.
func (w *Writer) Prepare(context.Context) error {
	return w.sink.EnsureHeader(w.columns)
}

// Write appends rec.
func (w *Writer) Write(_ context.Context, rec models.ScanRecord) error {
	return w.sink.Append(rec, w.columns)
}

func formatRow(values []string) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(v, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
	return b.String()
}

func isHeaderRow(line []byte) bool {
	r := csv.NewReader(bytes.NewReader(line))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil || len(fields) == 0 {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(fields[0], "\ufeff")) == "IP"
}
