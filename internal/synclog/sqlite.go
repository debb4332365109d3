package synclog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by another version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const recordColumns = `id, subject_id, item, repetition, file_name, size, timestamp, is_synced`

// SQLiteLog stores records and audio in a single SQLite database.
type SQLiteLog struct {
	db   *sql.DB
	path string
}

var _ Log = (*SQLiteLog)(nil)

// OpenSQLite opens or creates dir/queue.db.
func OpenSQLite(dir string) (*SQLiteLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sync log directory: %w", err)
	}

	dbPath := filepath.Join(dir, "queue.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	l := &SQLiteLog{db: db, path: dbPath}
	if err := l.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the database file path.
func (l *SQLiteLog) Path() string { return l.path }

// Close closes the underlying database connection.
func (l *SQLiteLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *SQLiteLog) initSchema(ctx context.Context) error {
	var tableExists int
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return l.createSchema(ctx)
	}

	var version int
	if err := l.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (l *SQLiteLog) createSchema(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Append inserts rec.
func (l *SQLiteLog) Append(ctx context.Context, rec *Record) error {
	if err := prepare(rec); err != nil {
		return err
	}
	rec.AudioURL = l.audioURL(rec.ID)

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO sync_records (
            id, subject_id, item, repetition, file_name, audio, size, timestamp, is_synced
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.SubjectID,
		rec.Item,
		rec.Repetition,
		rec.FileName,
		rec.Audio,
		rec.Size,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.IsSynced,
	)
	if err != nil {
		return fmt.Errorf("insert sync record: %w", err)
	}
	return nil
}

// List returns all records of a subject without audio.
func (l *SQLiteLog) List(ctx context.Context, subjectID string) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM sync_records WHERE subject_id = ? ORDER BY seq`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := l.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListUnsynced returns unsynced records of a subject with audio.
func (l *SQLiteLog) ListUnsynced(ctx context.Context, subjectID string) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+recordColumns+`, audio FROM sync_records
         WHERE subject_id = ? AND is_synced = 0 ORDER BY seq`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list unsynced records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := l.scanRecord(rows, withAudio)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkSynced flips is_synced for id.
func (l *SQLiteLog) MarkSynced(ctx context.Context, subjectID, id string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE sync_records SET is_synced = 1 WHERE subject_id = ? AND id = ?`,
		subjectID, id,
	)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return expectOneRow(res, id)
}

// Remove deletes the record for id.
func (l *SQLiteLog) Remove(ctx context.Context, subjectID, id string) error {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM sync_records WHERE subject_id = ? AND id = ?`,
		subjectID, id,
	)
	if err != nil {
		return fmt.Errorf("remove sync record: %w", err)
	}
	return expectOneRow(res, id)
}

// Subjects lists subject ids present in the log.
func (l *SQLiteLog) Subjects(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT DISTINCT subject_id FROM sync_records ORDER BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

type scanOption int

const withAudio scanOption = 1

func (l *SQLiteLog) scanRecord(rows *sql.Rows, opts ...scanOption) (Record, error) {
	var (
		rec       Record
		timestamp string
		synced    int
	)
	dest := []any{&rec.ID, &rec.SubjectID, &rec.Item, &rec.Repetition, &rec.FileName, &rec.Size, &timestamp, &synced}
	if len(opts) > 0 && opts[0] == withAudio {
		dest = append(dest, &rec.Audio)
	}
	if err := rows.Scan(dest...); err != nil {
		return Record{}, fmt.Errorf("scan sync record: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return Record{}, fmt.Errorf("parse timestamp for %s: %w", rec.ID, err)
	}
	rec.Timestamp = ts
	rec.IsSynced = synced != 0
	rec.AudioURL = l.audioURL(rec.ID)
	return rec, nil
}

func (l *SQLiteLog) audioURL(id string) string {
	return fmt.Sprintf("sqlite://%s#%s", l.path, id)
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
