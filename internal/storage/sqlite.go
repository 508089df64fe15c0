package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Verification records, one per wasm hash
	CREATE TABLE IF NOT EXISTS verification_records (
		wasm_hash TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('verified', 'unverified')),
		network TEXT,
		contract_id TEXT,
		repository TEXT NOT NULL,
		commit_hash TEXT NOT NULL,
		package TEXT,
		build_params TEXT,
		requested_by TEXT,
		created_at TEXT NOT NULL
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now')),
		last_used_at TEXT,
		revoked_at TEXT
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_records_status ON verification_records(status);
	CREATE INDEX IF NOT EXISTS idx_records_commit ON verification_records(commit_hash);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

const recordColumns = `wasm_hash, id, status, network, contract_id, repository, commit_hash, package, build_params, requested_by, created_at`

// InsertRecord atomically inserts a record unless one already exists for the
// wasm hash. ON CONFLICT DO NOTHING makes the insert race-free: of two
// concurrent writers exactly one row lands, the other observes it.
func (s *SQLiteStore) InsertRecord(ctx context.Context, rec *VerificationRecord) (*VerificationRecord, bool, error) {
	params, err := json.Marshal(rec.BuildParams)
	if err != nil {
		return nil, false, fmt.Errorf("encoding build params: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(wasm_hash) DO NOTHING
	`, rec.WasmHash, rec.ID, rec.Status, rec.Network, rec.ContractID, rec.Repository, rec.CommitHash, rec.Package, string(params), rec.RequestedBy, rec.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return rec, true, nil
	}

	// A verified outcome may replace an existing unverified record for the
	// same hash exactly once; the conditional WHERE keeps this race-free.
	if rec.Status == StatusVerified {
		res, err := s.db.ExecContext(ctx, `
			UPDATE verification_records
			SET id = ?, status = ?, network = ?, contract_id = ?, repository = ?, commit_hash = ?, package = ?, build_params = ?, requested_by = ?, created_at = ?
			WHERE wasm_hash = ? AND status = ?
		`, rec.ID, rec.Status, rec.Network, rec.ContractID, rec.Repository, rec.CommitHash, rec.Package, string(params), rec.RequestedBy, rec.CreatedAt, rec.WasmHash, StatusUnverified)
		if err != nil {
			return nil, false, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return rec, true, nil
		}
	}

	existing, err := s.GetRecord(ctx, rec.WasmHash)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetRecord retrieves a record by wasm hash
func (s *SQLiteStore) GetRecord(ctx context.Context, wasmHash string) (*VerificationRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM verification_records WHERE wasm_hash = ?`, wasmHash)
	return scanRecord(row)
}

// ListRecords lists records with filtering and cursor-based pagination.
// The cursor is the wasm hash of the last record on the previous page.
func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter, pagination PaginationParams) (*PaginatedResult[VerificationRecord], error) {
	query := `SELECT ` + recordColumns + ` FROM verification_records WHERE wasm_hash > ?`
	args := []any{pagination.Cursor}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Network != "" {
		query += ` AND network = ?`
		args = append(args, filter.Network)
	}
	query += ` ORDER BY wasm_hash LIMIT ?`
	args = append(args, pagination.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []VerificationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	hasMore := len(records) > pagination.Limit
	var nextCursor string
	if hasMore {
		records = records[:pagination.Limit]
	}
	if hasMore && len(records) > 0 {
		nextCursor = records[len(records)-1].WasmHash
	}

	return &PaginatedResult[VerificationRecord]{
		Data:       records,
		HasMore:    hasMore,
		NextCursor: nextCursor,
	}, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*VerificationRecord, error) {
	var rec VerificationRecord
	var network, contractID, pkg, params, requestedBy sql.NullString
	err := row.Scan(&rec.WasmHash, &rec.ID, &rec.Status, &network, &contractID, &rec.Repository, &rec.CommitHash, &pkg, &params, &requestedBy, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Network = network.String
	rec.ContractID = contractID.String
	rec.Package = pkg.String
	rec.RequestedBy = requestedBy.String
	if params.String != "" && params.String != "null" {
		if err := json.Unmarshal([]byte(params.String), &rec.BuildParams); err != nil {
			return nil, fmt.Errorf("decoding build params: %w", err)
		}
	}
	return &rec, nil
}

// CreateAPIKey creates a new API key
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	hash := hashAPIKey(key)
	id := generateID()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name, created_at) VALUES (?, ?, ?, datetime('now'))", id, hash, name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *SQLiteStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	hash := hashAPIKey(key)
	var ak APIKey
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL", hash).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &ak.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = datetime('now') WHERE id = ?", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all API keys
func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		k.LastUsedAt = lastUsed.String
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = datetime('now') WHERE id = ?", id)
	return err
}
