package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Verification records, one per wasm hash
	CREATE TABLE IF NOT EXISTS verification_records (
		wasm_hash TEXT PRIMARY KEY,
		id UUID NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('verified', 'unverified')),
		network TEXT,
		contract_id TEXT,
		repository TEXT NOT NULL,
		commit_hash TEXT NOT NULL,
		package TEXT,
		build_params JSONB,
		requested_by TEXT,
		created_at TEXT NOT NULL
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		last_used_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_records_status ON verification_records(status);
	CREATE INDEX IF NOT EXISTS idx_records_commit ON verification_records(commit_hash);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// InsertRecord atomically inserts a record unless one already exists for the
// wasm hash; see SQLiteStore.InsertRecord for the insertion discipline.
func (s *PostgresStore) InsertRecord(ctx context.Context, rec *VerificationRecord) (*VerificationRecord, bool, error) {
	params, err := json.Marshal(rec.BuildParams)
	if err != nil {
		return nil, false, fmt.Errorf("encoding build params: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_records (wasm_hash, id, status, network, contract_id, repository, commit_hash, package, build_params, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (wasm_hash) DO NOTHING
	`, rec.WasmHash, rec.ID, rec.Status, rec.Network, rec.ContractID, rec.Repository, rec.CommitHash, rec.Package, string(params), rec.RequestedBy, rec.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return rec, true, nil
	}

	if rec.Status == StatusVerified {
		res, err := s.db.ExecContext(ctx, `
			UPDATE verification_records
			SET id = $1, status = $2, network = $3, contract_id = $4, repository = $5, commit_hash = $6, package = $7, build_params = $8, requested_by = $9, created_at = $10
			WHERE wasm_hash = $11 AND status = $12
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
func (s *PostgresStore) GetRecord(ctx context.Context, wasmHash string) (*VerificationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT wasm_hash, id, status, network, contract_id, repository, commit_hash, package, build_params::text, requested_by, created_at
		FROM verification_records WHERE wasm_hash = $1
	`, wasmHash)
	return scanRecord(row)
}

// ListRecords lists records with filtering and cursor-based pagination
func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter, pagination PaginationParams) (*PaginatedResult[VerificationRecord], error) {
	query := `
		SELECT wasm_hash, id, status, network, contract_id, repository, commit_hash, package, build_params::text, requested_by, created_at
		FROM verification_records WHERE wasm_hash > $1
	`
	args := []any{pagination.Cursor}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Network != "" {
		args = append(args, filter.Network)
		query += fmt.Sprintf(" AND network = $%d", len(args))
	}
	args = append(args, pagination.Limit+1)
	query += fmt.Sprintf(" ORDER BY wasm_hash LIMIT $%d", len(args))

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
		nextCursor = records[len(records)-1].WasmHash
	}

	return &PaginatedResult[VerificationRecord]{
		Data:       records,
		HasMore:    hasMore,
		NextCursor: nextCursor,
	}, rows.Err()
}

// CreateAPIKey creates a new API key
func (s *PostgresStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	hash := hashAPIKey(key)
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (key_hash, name) VALUES ($1, $2)", hash, name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *PostgresStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	hash := hashAPIKey(key)
	var ak APIKey
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at::text FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL", hash).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &ak.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = NOW() WHERE id = $1", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all API keys
func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at::text, COALESCE(last_used_at::text, '') FROM api_keys WHERE revoked_at IS NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt, &k.LastUsedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = NOW() WHERE id = $1", id)
	return err
}
