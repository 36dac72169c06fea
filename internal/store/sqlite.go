package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/danielpatrickdp/ihtai/internal/errs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS cell_points (
	cell_key            TEXT PRIMARY KEY,
	coords              BLOB NOT NULL,
	first_action_index  INTEGER NOT NULL,
	first_drive_index   INTEGER NOT NULL,
	update_count        INTEGER NOT NULL DEFAULT 0,
	last_reset_at       TEXT NOT NULL,
	created_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS action_rows (
	cell_key      TEXT NOT NULL,
	signature     TEXT NOT NULL,
	horizon       INTEGER NOT NULL,
	score         REAL NOT NULL,
	update_count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (cell_key, signature, horizon)
);
CREATE INDEX IF NOT EXISTS idx_rows_best ON action_rows(cell_key, horizon, score);
CREATE INDEX IF NOT EXISTS idx_rows_signature ON action_rows(signature);

CREATE TABLE IF NOT EXISTS journal (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id      TEXT NOT NULL UNIQUE,
	kind          TEXT NOT NULL,
	cell_key      TEXT,
	detail_json   TEXT,
	created_at    TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// SQLiteStore persists the index and every action table in one SQLite database.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

// #endregion store-struct

// #region constructor
// NewSQLiteStore opens a SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{path: dbPath, db: db}, nil
}

// OpenSQLiteReadOnly opens an existing database with mode=ro for inspection tools. It
// skips migrations and pragmas, so every write fails with ErrStore.
func OpenSQLiteReadOnly(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite path is required")
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open db: %w", err)
	}
	return &SQLiteStore{path: dbPath, db: db}, nil
}

// Init re-runs the idempotent migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return storeErr("migrate", err)
	}
	return nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for read-only tooling.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region points
func (s *SQLiteStore) InsertPoint(ctx context.Context, rec PointRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cell_points WHERE cell_key = ?`, rec.Key,
	).Scan(&exists); err != nil {
		return storeErr("check point", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: point %s", errs.ErrAlreadyExists, rec.Key)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastResetAt.IsZero() {
		rec.LastResetAt = now
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO cell_points (cell_key, coords, first_action_index, first_drive_index, update_count, last_reset_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Key, encodeVector(rec.Coords), rec.FirstActionIndex, rec.FirstDriveIndex, int64(rec.UpdateCount),
		rec.LastResetAt.UTC().Format(time.RFC3339Nano), rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return storeErr("insert point", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

func (s *SQLiteStore) GetPoint(ctx context.Context, key string) (PointRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT cell_key, coords, first_action_index, first_drive_index, update_count, last_reset_at, created_at
		 FROM cell_points WHERE cell_key = ?`, key,
	)
	rec, err := scanPoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PointRecord{}, false, nil
	}
	if err != nil {
		return PointRecord{}, false, storeErr("get point "+key, err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) ListPoints(ctx context.Context) ([]PointRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cell_key, coords, first_action_index, first_drive_index, update_count, last_reset_at, created_at
		 FROM cell_points ORDER BY cell_key`,
	)
	if err != nil {
		return nil, storeErr("list points", err)
	}
	defer rows.Close()

	var out []PointRecord
	for rows.Next() {
		rec, err := scanPoint(rows)
		if err != nil {
			return nil, storeErr("scan point", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list points", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeletePoint(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cell_points WHERE cell_key = ?`, key); err != nil {
		return storeErr("delete point", err)
	}
	return nil
}

func (s *SQLiteStore) ResetAccessStats(ctx context.Context, key string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cell_points SET update_count = 0, last_reset_at = ? WHERE cell_key = ?`,
		at.UTC().Format(time.RFC3339Nano), key,
	)
	if err != nil {
		return storeErr("reset access stats", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", errs.ErrNoSuchCell, key)
	}
	return nil
}

// #endregion points

// #region rows
func (s *SQLiteStore) InsertRows(ctx context.Context, cellKey string, rows []ActionRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO action_rows (cell_key, signature, horizon, score, update_count) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return storeErr("prepare insert rows", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, cellKey, r.Signature, r.Horizon, r.Score, int64(r.UpdateCount)); err != nil {
			if isConstraint(err) {
				return fmt.Errorf("%w: row %s/%s/%d", errs.ErrAlreadyExists, cellKey, r.Signature, r.Horizon)
			}
			return storeErr(fmt.Sprintf("insert row %s/%d", r.Signature, r.Horizon), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

func (s *SQLiteStore) Rows(ctx context.Context, cellKey string) ([]ActionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT signature, horizon, score, update_count FROM action_rows
		 WHERE cell_key = ? ORDER BY signature, horizon`, cellKey,
	)
	if err != nil {
		return nil, storeErr("select rows", err)
	}
	defer rows.Close()

	var out []ActionRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, storeErr("scan row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("select rows", err)
	}
	return out, nil
}

func (s *SQLiteStore) Row(ctx context.Context, cellKey, signature string, horizon int) (ActionRow, bool, error) {
	r, err := scanRow(s.db.QueryRowContext(ctx,
		`SELECT signature, horizon, score, update_count FROM action_rows
		 WHERE cell_key = ? AND signature = ? AND horizon = ?`, cellKey, signature, horizon,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return ActionRow{}, false, nil
	}
	if err != nil {
		return ActionRow{}, false, storeErr("select row", err)
	}
	return r, true, nil
}

func (s *SQLiteStore) BestRow(ctx context.Context, cellKey string, horizon int) (ActionRow, bool, error) {
	r, err := scanRow(s.db.QueryRowContext(ctx,
		`SELECT signature, horizon, score, update_count FROM action_rows
		 WHERE cell_key = ? AND horizon = ?
		 ORDER BY score ASC, signature ASC LIMIT 1`, cellKey, horizon,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return ActionRow{}, false, nil
	}
	if err != nil {
		return ActionRow{}, false, storeErr("select best row", err)
	}
	return r, true, nil
}

func (s *SQLiteStore) SaveScores(ctx context.Context, cellKey string, rows []ActionRow, cellIncrement uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE cell_points SET update_count = update_count + ? WHERE cell_key = ?`,
		int64(cellIncrement), cellKey,
	)
	if err != nil {
		return storeErr("increment cell updates", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", errs.ErrNoSuchCell, cellKey)
	}

	for _, r := range rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO action_rows (cell_key, signature, horizon, score, update_count)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(cell_key, signature, horizon) DO UPDATE SET
			   score = excluded.score,
			   update_count = excluded.update_count`,
			cellKey, r.Signature, r.Horizon, r.Score, int64(r.UpdateCount),
		)
		if err != nil {
			return storeErr(fmt.Sprintf("upsert row %s/%d", r.Signature, r.Horizon), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

func (s *SQLiteStore) CopySignature(ctx context.Context, cellKey, newSig, fromSig string) (int64, error) {
	query := `INSERT OR IGNORE INTO action_rows (cell_key, signature, horizon, score, update_count)
		SELECT cell_key, ?, horizon, score, 0 FROM action_rows WHERE signature = ?`
	args := []interface{}{newSig, fromSig}
	if cellKey != "" {
		query += ` AND cell_key = ?`
		args = append(args, cellKey)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storeErr("copy signature", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) DeleteSignature(ctx context.Context, signature, exceptCell string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM action_rows WHERE signature = ? AND cell_key != ?`, signature, exceptCell,
	)
	if err != nil {
		return 0, storeErr("delete signature", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) RemoveSignature(ctx context.Context, cellKey, signature string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM action_rows WHERE cell_key = ? AND signature = ?`, cellKey, signature,
	)
	if err != nil {
		return 0, storeErr("remove signature", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) DropRows(ctx context.Context, cellKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM action_rows WHERE cell_key = ?`, cellKey); err != nil {
		return storeErr("drop rows", err)
	}
	return nil
}

// #endregion rows

// #region clear
// Clear empties every table without dropping the schema.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"action_rows", "cell_points", "journal"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return storeErr("clear "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// #endregion clear

// #region journal
func (s *SQLiteStore) AppendJournal(ctx context.Context, entry JournalEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (event_id, kind, cell_key, detail_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Kind, nullIfEmpty(entry.CellKey), nullIfEmpty(entry.DetailJSON),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return storeErr("append journal", err)
	}
	return nil
}

func (s *SQLiteStore) ListJournal(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, kind, cell_key, detail_json, created_at FROM journal ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, storeErr("list journal", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var cellKey, detail sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.Kind, &cellKey, &detail, &created); err != nil {
			return nil, storeErr("scan journal", err)
		}
		e.CellKey = cellKey.String
		e.DetailJSON = detail.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion journal

// #region helpers
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPoint(sc scanner) (PointRecord, error) {
	var rec PointRecord
	var blob []byte
	var updates int64
	var resetStr, createdStr string
	if err := sc.Scan(&rec.Key, &blob, &rec.FirstActionIndex, &rec.FirstDriveIndex, &updates, &resetStr, &createdStr); err != nil {
		return PointRecord{}, err
	}
	rec.Coords = decodeVector(blob)
	rec.UpdateCount = uint64(updates)
	rec.LastResetAt, _ = time.Parse(time.RFC3339Nano, resetStr)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

func scanRow(sc scanner) (ActionRow, error) {
	var r ActionRow
	var updates int64
	if err := sc.Scan(&r.Signature, &r.Horizon, &r.Score, &updates); err != nil {
		return ActionRow{}, err
	}
	r.UpdateCount = uint64(updates)
	return r, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", errs.ErrStore, op, err)
}

// isConstraint reports a primary key or unique violation, with or without extended codes.
func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

// #endregion helpers
