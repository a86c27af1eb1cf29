package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/opsync/opsync/operation"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    data_json   TEXT NOT NULL,
    PRIMARY KEY (entity_type, entity_id)
);

CREATE TABLE IF NOT EXISTS operations (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id  TEXT    NOT NULL UNIQUE,
    entity_type   TEXT    NOT NULL,
    entity_id     TEXT    NOT NULL,
    op_kind       TEXT    NOT NULL,
    custom_name   TEXT    NOT NULL DEFAULT '',
    payload_json  TEXT    NOT NULL,
    timestamp     INTEGER NOT NULL,
    status        TEXT    NOT NULL,
    device_id     TEXT    NOT NULL DEFAULT '',
    retry_count   INTEGER NOT NULL DEFAULT 0,
    error_message TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_operations_entity ON operations (entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_operations_status ON operations (status);

CREATE TABLE IF NOT EXISTS metadata (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// SQLiteStore is a SQLite-backed Contract implementation, suitable for a
// single-process client that wants its operation log and entity cache to
// survive restarts. It serializes each Payload as a JSON column rather than
// imposing a schema on the caller's entity shape.
type SQLiteStore struct {
	db *sql.DB
}

var _ Contract = (*SQLiteStore)(nil)

// DefaultDBPath returns ~/.local/share/opsync/state.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "opsync", "state.db"), nil
}

// OpenSQLite opens (or creates) the SQLite database at path, applies the
// schema, and configures WAL mode for better concurrent read performance.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL; the engine's
	// single-sync guard already serializes writers at a higher level, but a
	// concurrent facade write can still race it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize(ctx context.Context) error {
	// Recovery mechanism (b): a full GetPendingOperations query returns both
	// Pending and Syncing records — see that method.
	_ = ctx
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveEntity(ctx context.Context, entityType, entityID string, data operation.Payload) error {
	blob, err := json.Marshal(map[string]any(data))
	if err != nil {
		return fmt.Errorf("marshalling entity %s/%s: %w", entityType, entityID, err)
	}
	const q = `
		INSERT INTO entities (entity_type, entity_id, data_json) VALUES (?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET data_json = excluded.data_json`
	_, err = s.db.ExecContext(ctx, q, entityType, entityID, string(blob))
	if err != nil {
		return fmt.Errorf("saving entity %s/%s: %w", entityType, entityID, err)
	}
	return nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, entityType, entityID string) (operation.Payload, bool, error) {
	const q = `SELECT data_json FROM entities WHERE entity_type = ? AND entity_id = ?`
	var blob string
	err := s.db.QueryRowContext(ctx, q, entityType, entityID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting entity %s/%s: %w", entityType, entityID, err)
	}
	data, err := unmarshalPayload(blob)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *SQLiteStore) GetAllEntities(ctx context.Context, entityType string) ([]operation.Payload, error) {
	const q = `SELECT data_json FROM entities WHERE entity_type = ?`
	rows, err := s.db.QueryContext(ctx, q, entityType)
	if err != nil {
		return nil, fmt.Errorf("listing entities for %q: %w", entityType, err)
	}
	defer func() { _ = rows.Close() }()

	var out []operation.Payload
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scanning entity row: %w", err)
		}
		data, err := unmarshalPayload(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteEntity(ctx context.Context, entityType, entityID string) error {
	const q = `DELETE FROM entities WHERE entity_type = ? AND entity_id = ?`
	if _, err := s.db.ExecContext(ctx, q, entityType, entityID); err != nil {
		return fmt.Errorf("deleting entity %s/%s: %w", entityType, entityID, err)
	}
	return nil
}

func (s *SQLiteStore) EntityExists(ctx context.Context, entityType, entityID string) (bool, error) {
	const q = `SELECT 1 FROM entities WHERE entity_type = ? AND entity_id = ?`
	var dummy int
	err := s.db.QueryRowContext(ctx, q, entityType, entityID).Scan(&dummy)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking entity %s/%s: %w", entityType, entityID, err)
	}
	return true, nil
}

func (s *SQLiteStore) AddOperation(ctx context.Context, op operation.Operation) error {
	return insertOperation(ctx, s.db, op)
}

func insertOperation(ctx context.Context, db execer, op operation.Operation) error {
	blob, err := json.Marshal(map[string]any(op.Payload))
	if err != nil {
		return fmt.Errorf("marshalling payload for %s: %w", op.ID, err)
	}
	const q = `
		INSERT INTO operations
		    (operation_id, entity_type, entity_id, op_kind, custom_name, payload_json,
		     timestamp, status, device_id, retry_count, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, q,
		op.ID, op.EntityType, op.EntityID, string(op.OpKind.Kind), op.OpKind.Name, string(blob),
		op.Timestamp, string(op.Status), op.DeviceID, op.RetryCount, op.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("adding operation %s: %w", op.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateOperation(ctx context.Context, op operation.Operation) error {
	return updateOperation(ctx, s.db, op)
}

func updateOperation(ctx context.Context, db execer, op operation.Operation) error {
	blob, err := json.Marshal(map[string]any(op.Payload))
	if err != nil {
		return fmt.Errorf("marshalling payload for %s: %w", op.ID, err)
	}
	const q = `
		UPDATE operations SET
		    entity_type = ?, entity_id = ?, op_kind = ?, custom_name = ?, payload_json = ?,
		    timestamp = ?, status = ?, device_id = ?, retry_count = ?, error_message = ?
		WHERE operation_id = ?`
	res, err := db.ExecContext(ctx, q,
		op.EntityType, op.EntityID, string(op.OpKind.Kind), op.OpKind.Name, string(blob),
		op.Timestamp, string(op.Status), op.DeviceID, op.RetryCount, op.ErrorMessage,
		op.ID,
	)
	if err != nil {
		return fmt.Errorf("updating operation %s: %w", op.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating operation %s: %w", op.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("storage: operation %q not found", op.ID)
	}
	return nil
}

func (s *SQLiteStore) GetOperation(ctx context.Context, id string) (operation.Operation, bool, error) {
	const q = operationSelect + ` WHERE operation_id = ?`
	row := s.db.QueryRowContext(ctx, q, id)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return operation.Operation{}, false, nil
	}
	if err != nil {
		return operation.Operation{}, false, err
	}
	return op, true, nil
}

func (s *SQLiteStore) GetOperationsForEntity(ctx context.Context, entityType, entityID string) ([]operation.Operation, error) {
	const q = operationSelect + ` WHERE entity_type = ? AND entity_id = ? ORDER BY timestamp ASC, seq ASC`
	return s.queryOperations(ctx, q, entityType, entityID)
}

// GetPendingOperations returns both Pending and Syncing records — recovery
// mechanism (b) from §7: a full pending() query surfaces operations left
// mid-flight by a crash, without needing a separate startup pass.
func (s *SQLiteStore) GetPendingOperations(ctx context.Context) ([]operation.Operation, error) {
	const q = operationSelect + ` WHERE status IN (?, ?) ORDER BY timestamp ASC, seq ASC`
	return s.queryOperations(ctx, q, string(operation.StatusPending), string(operation.StatusSyncing))
}

func (s *SQLiteStore) queryOperations(ctx context.Context, q string, args ...any) ([]operation.Operation, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying operations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []operation.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteOperation(ctx context.Context, id string) error {
	const q = `DELETE FROM operations WHERE operation_id = ?`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("deleting operation %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteOperations(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.DeleteOperation(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) GetPendingOperationsCount(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM operations WHERE status IN (?, ?)`
	var count int
	err := s.db.QueryRowContext(ctx, q, string(operation.StatusPending), string(operation.StatusSyncing)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting pending operations: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) SaveMetadata(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("saving metadata %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM metadata WHERE key = ?`
	var value string
	err := s.db.QueryRowContext(ctx, q, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting metadata %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) ClearMetadata(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM metadata`); err != nil {
		return fmt.Errorf("clearing metadata: %w", err)
	}
	return nil
}

// ExecuteTransaction runs fn inside a real SQL transaction: a rollback on
// error leaves every table exactly as it was, including across the extras
// appended by Squash.
func (s *SQLiteStore) ExecuteTransaction(ctx context.Context, fn func(tx Contract) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	tx := &sqliteTx{tx: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	for _, table := range []string{"entities", "operations", "metadata"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

const operationSelect = `
	SELECT operation_id, entity_type, entity_id, op_kind, custom_name, payload_json,
	       timestamp, status, device_id, retry_count, error_message
	FROM operations`

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// execer matches both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func scanOperation(s scanner) (operation.Operation, error) {
	var op operation.Operation
	var kindStr, customName, payloadBlob, statusStr string

	err := s.Scan(
		&op.ID, &op.EntityType, &op.EntityID, &kindStr, &customName, &payloadBlob,
		&op.Timestamp, &statusStr, &op.DeviceID, &op.RetryCount, &op.ErrorMessage,
	)
	if err != nil {
		return operation.Operation{}, err
	}

	switch operation.Kind(kindStr) {
	case operation.KindCustom:
		op.OpKind = operation.Custom(customName)
	default:
		op.OpKind = operation.OpKind{Kind: operation.Kind(kindStr)}
	}
	op.Status = operation.Status(statusStr)

	payload, err := unmarshalPayload(payloadBlob)
	if err != nil {
		return operation.Operation{}, err
	}
	op.Payload = payload
	return op, nil
}

func unmarshalPayload(blob string) (operation.Payload, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(blob), &m); err != nil {
		return nil, fmt.Errorf("unmarshalling payload: %w", err)
	}
	return operation.Payload(m), nil
}

// sqliteTx implements Contract against an open *sql.Tx, so fn passed to
// ExecuteTransaction can use the same vocabulary as the top-level store.
type sqliteTx struct {
	tx *sql.Tx
}

var _ Contract = (*sqliteTx)(nil)

func (t *sqliteTx) Initialize(context.Context) error { return nil }
func (t *sqliteTx) Close() error                     { return nil }

func (t *sqliteTx) SaveEntity(ctx context.Context, entityType, entityID string, data operation.Payload) error {
	blob, err := json.Marshal(map[string]any(data))
	if err != nil {
		return fmt.Errorf("marshalling entity %s/%s: %w", entityType, entityID, err)
	}
	const q = `
		INSERT INTO entities (entity_type, entity_id, data_json) VALUES (?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET data_json = excluded.data_json`
	_, err = t.tx.ExecContext(ctx, q, entityType, entityID, string(blob))
	return err
}

func (t *sqliteTx) GetEntity(ctx context.Context, entityType, entityID string) (operation.Payload, bool, error) {
	const q = `SELECT data_json FROM entities WHERE entity_type = ? AND entity_id = ?`
	var blob string
	err := t.tx.QueryRowContext(ctx, q, entityType, entityID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data, err := unmarshalPayload(blob)
	return data, err == nil, err
}

func (t *sqliteTx) GetAllEntities(ctx context.Context, entityType string) ([]operation.Payload, error) {
	const q = `SELECT data_json FROM entities WHERE entity_type = ?`
	rows, err := t.tx.QueryContext(ctx, q, entityType)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []operation.Payload
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		data, err := unmarshalPayload(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

func (t *sqliteTx) DeleteEntity(ctx context.Context, entityType, entityID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ? AND entity_id = ?`, entityType, entityID)
	return err
}

func (t *sqliteTx) EntityExists(ctx context.Context, entityType, entityID string) (bool, error) {
	const q = `SELECT 1 FROM entities WHERE entity_type = ? AND entity_id = ?`
	var dummy int
	err := t.tx.QueryRowContext(ctx, q, entityType, entityID).Scan(&dummy)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (t *sqliteTx) AddOperation(ctx context.Context, op operation.Operation) error {
	return insertOperation(ctx, t.tx, op)
}

func (t *sqliteTx) UpdateOperation(ctx context.Context, op operation.Operation) error {
	return updateOperation(ctx, t.tx, op)
}

func (t *sqliteTx) GetOperation(ctx context.Context, id string) (operation.Operation, bool, error) {
	const q = operationSelect + ` WHERE operation_id = ?`
	op, err := scanOperation(t.tx.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return operation.Operation{}, false, nil
	}
	return op, err == nil, err
}

func (t *sqliteTx) GetOperationsForEntity(ctx context.Context, entityType, entityID string) ([]operation.Operation, error) {
	const q = operationSelect + ` WHERE entity_type = ? AND entity_id = ? ORDER BY timestamp ASC, seq ASC`
	rows, err := t.tx.QueryContext(ctx, q, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []operation.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (t *sqliteTx) GetPendingOperations(ctx context.Context) ([]operation.Operation, error) {
	const q = operationSelect + ` WHERE status IN (?, ?) ORDER BY timestamp ASC, seq ASC`
	rows, err := t.tx.QueryContext(ctx, q, string(operation.StatusPending), string(operation.StatusSyncing))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []operation.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (t *sqliteTx) DeleteOperation(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM operations WHERE operation_id = ?`, id)
	return err
}

func (t *sqliteTx) DeleteOperations(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := t.DeleteOperation(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) GetPendingOperationsCount(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM operations WHERE status IN (?, ?)`
	var count int
	err := t.tx.QueryRowContext(ctx, q, string(operation.StatusPending), string(operation.StatusSyncing)).Scan(&count)
	return count, err
}

func (t *sqliteTx) SaveMetadata(ctx context.Context, key, value string) error {
	const q = `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := t.tx.ExecContext(ctx, q, key, value)
	return err
}

func (t *sqliteTx) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM metadata WHERE key = ?`
	var value string
	err := t.tx.QueryRowContext(ctx, q, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return value, err == nil, err
}

func (t *sqliteTx) ClearMetadata(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM metadata`)
	return err
}

func (t *sqliteTx) ExecuteTransaction(ctx context.Context, fn func(tx Contract) error) error {
	// Nested transactions collapse onto the existing one — SQLite has no
	// real savepoints in play here, so a nested call just runs fn against
	// the same *sql.Tx.
	return fn(t)
}

func (t *sqliteTx) ClearAll(ctx context.Context) error {
	for _, table := range []string{"entities", "operations", "metadata"} {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return err
		}
	}
	return nil
}
