package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/wasmproof/internal/config"
)

// Record statuses persisted to the store. Failed pipeline runs are never
// persisted, so these are the only two values.
const (
	StatusVerified   = "verified"
	StatusUnverified = "unverified"
)

// VerificationRecord is the immutable outcome of a pipeline run, keyed by
// wasm hash. At most one verified record exists per hash.
type VerificationRecord struct {
	ID          string            `json:"id"`
	WasmHash    string            `json:"wasmHash"`
	Status      string            `json:"status"`
	Network     string            `json:"network,omitempty"`
	ContractID  string            `json:"contractId,omitempty"`
	Repository  string            `json:"repository"`
	CommitHash  string            `json:"commitHash"`
	Package     string            `json:"package,omitempty"`
	BuildParams map[string]string `json:"buildParams,omitempty"`
	RequestedBy string            `json:"requestedBy,omitempty"`
	CreatedAt   string            `json:"createdAt"`
}

// RecordStore handles verification record operations
type RecordStore interface {
	// InsertRecord atomically inserts the record if no record for its wasm
	// hash exists yet. When one does, the existing record is returned with
	// inserted=false and nothing is written. The one exception: an existing
	// unverified record is replaced by a verified one for the same hash.
	InsertRecord(ctx context.Context, rec *VerificationRecord) (stored *VerificationRecord, inserted bool, err error)
	GetRecord(ctx context.Context, wasmHash string) (*VerificationRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter, pagination PaginationParams) (*PaginatedResult[VerificationRecord], error)
}

// APIKeyStore handles API key operations
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (key string, err error)
	ValidateAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store combines the storage interfaces with lifecycle methods.
// Consumers depend on the narrow interfaces above, not on Store.
type Store interface {
	RecordStore
	APIKeyStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// APIKey represents an API key
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  string
	LastUsedAt string
	RevokedAt  string
}

// RecordFilter contains filter options for listing records
type RecordFilter struct {
	Status  string
	Network string
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	case "file":
		return NewFileStore(cfg.File.Dir, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
