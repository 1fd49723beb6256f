package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackzampolin/takeoff/internal/document"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name        string
	placeholder func(n int) string
}

var (
	sqliteDialect   = dialect{name: "sqlite", placeholder: func(int) string { return "?" }}
	postgresDialect = dialect{name: "postgres", placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}
)

// rebind rewrites ? placeholders for the dialect.
func (d dialect) rebind(query string) string {
	if d.name == sqliteDialect.name {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	storage_ref  TEXT NOT NULL,
	status       TEXT NOT NULL,
	stage        TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	created_at   BIGINT NOT NULL,
	updated_at   BIGINT NOT NULL,
	started_at   BIGINT,
	completed_at BIGINT
);
CREATE INDEX IF NOT EXISTS documents_status_idx ON documents (status);
CREATE TABLE IF NOT EXISTS results (
	document_id TEXT PRIMARY KEY REFERENCES documents (id),
	payload     TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	created_at  BIGINT NOT NULL
);
`

const documentColumns = `id, filename, storage_ref, status, stage, error, attempts, created_at, updated_at, started_at, completed_at`

// SQLStore implements Store on database/sql. It backs both the SQLite and
// Postgres stores.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time
	closeFn func() error
}

var _ Store = (*SQLStore)(nil)

func newSQLStore(db *sql.DB, d dialect, logger *slog.Logger, closeFn func() error) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger.With("store", d.name),
		now:     time.Now,
		closeFn: closeFn,
	}
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaDDL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, q execer, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create inserts a new document.
func (s *SQLStore) Create(ctx context.Context, doc *document.Document) error {
	if existing, err := s.Get(ctx, doc.ID); err == nil && existing != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, doc.ID)
	}

	now := s.now().UTC()
	if doc.Status == "" {
		doc.Status = document.StatusPending
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.exec(ctx, s.db,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.StorageRef, string(doc.Status), doc.Stage, doc.Error, doc.Attempts,
		toMicros(doc.CreatedAt), toMicros(doc.UpdatedAt), nullMicros(doc.StartedAt), nullMicros(doc.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// Get returns a document by id.
func (s *SQLStore) Get(ctx context.Context, id string) (*document.Document, error) {
	row := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return doc, nil
}

// List returns documents newest first.
func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]*document.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// BeginRun performs the guarded PENDING|FAILED -> PROCESSING transition with
// a single conditional UPDATE.
func (s *SQLStore) BeginRun(ctx context.Context, id string) (*document.Document, error) {
	return s.BeginRequestedRun(ctx, id, time.Time{})
}

// BeginRequestedRun performs the guarded transition for a run requested at
// requestedAt. A document whose last run started after the request does
// not match the UPDATE.
func (s *SQLStore) BeginRequestedRun(ctx context.Context, id string, requestedAt time.Time) (*document.Document, error) {
	now := toMicros(s.now().UTC())
	query := `UPDATE documents
		SET status = ?, stage = '', error = '', attempts = 0, started_at = ?, completed_at = NULL, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`
	args := []any{
		string(document.StatusProcessing), now, now, id,
		string(document.StatusPending), string(document.StatusFailed),
	}
	if !requestedAt.IsZero() {
		query += ` AND (started_at IS NULL OR started_at <= ?)`
		args = append(args, toMicros(requestedAt.UTC()))
	}
	n, err := s.exec(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to begin run: %w", err)
	}
	if n == 0 {
		return nil, s.explainMiss(ctx, id)
	}
	return s.Get(ctx, id)
}

// explainMiss turns a guarded update that matched nothing into an error.
func (s *SQLStore) explainMiss(ctx context.Context, id string) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return guardError(doc.Status)
}

// SetStage updates the stage marker of a running document.
func (s *SQLStore) SetStage(ctx context.Context, id, stage string, attempts int) error {
	n, err := s.exec(ctx, s.db,
		`UPDATE documents SET stage = ?, attempts = ?, updated_at = ? WHERE id = ? AND status = ?`,
		stage, attempts, toMicros(s.now().UTC()), id, string(document.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to set stage: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// Complete writes the result and marks the document COMPLETED in one
// transaction. The result row is upserted so a document never has more
// than one.
func (s *SQLStore) Complete(ctx context.Context, id string, result *document.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := toMicros(s.now().UTC())
	n, err := s.exec(ctx, tx,
		`UPDATE documents SET status = ?, stage = '', error = '', completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(document.StatusCompleted), now, now, id, string(document.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to mark completed: %w", err)
	}
	if n == 0 {
		_ = tx.Rollback()
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}

	if _, err := s.exec(ctx, tx,
		`INSERT INTO results (document_id, payload, confidence, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET payload = excluded.payload, confidence = excluded.confidence, created_at = excluded.created_at`,
		id, string(payload), result.Confidence, now,
	); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}
	s.logger.Debug("result stored", "document_id", id, "confidence", result.Confidence)
	return nil
}

// Fail marks a PROCESSING document FAILED.
func (s *SQLStore) Fail(ctx context.Context, id, message string) error {
	now := toMicros(s.now().UTC())
	n, err := s.exec(ctx, s.db,
		`UPDATE documents SET status = ?, stage = '', error = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(document.StatusFailed), message, now, now, id, string(document.StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to mark failed: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// GetResult returns the result of a COMPLETED document.
func (s *SQLStore) GetResult(ctx context.Context, id string) (*document.Result, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != document.StatusCompleted {
		return nil, fmt.Errorf("%w: document is %s", ErrResultNotReady, doc.Status)
	}

	var payload string
	err = s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT payload FROM results WHERE document_id = ?`), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no result row", ErrResultNotReady)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}

	var r document.Result
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &r, nil
}

// CountResults returns the number of result rows for a document.
func (s *SQLStore) CountResults(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT COUNT(*) FROM results WHERE document_id = ?`), id).Scan(&n)
	return n, err
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	if s.closeFn != nil {
		return s.closeFn()
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*document.Document, error) {
	var (
		doc                document.Document
		status             string
		created, updated   int64
		started, completed sql.NullInt64
	)
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.StorageRef, &status, &doc.Stage, &doc.Error,
		&doc.Attempts, &created, &updated, &started, &completed); err != nil {
		return nil, err
	}
	doc.Status = document.Status(status)
	doc.CreatedAt = fromMicros(created)
	doc.UpdatedAt = fromMicros(updated)
	if started.Valid {
		t := fromMicros(started.Int64)
		doc.StartedAt = &t
	}
	if completed.Valid {
		t := fromMicros(completed.Int64)
		doc.CompletedAt = &t
	}
	return &doc, nil
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}
