package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore persists verification records as one write-once JSON file per
// wasm hash. Insert-if-absent is done with hard links: the record is written
// to a temp file and linked to its final name, which fails atomically when
// the name already exists. API keys are not supported on this backend.
type FileStore struct {
	dir    string
	logger *slog.Logger

	// Guards the unverified-to-verified replace path, which cannot be
	// expressed as a single atomic filesystem operation.
	mu sync.Mutex
}

// NewFileStore creates a record-file store rooted at dir
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating records directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// Close is a no-op for the file store
func (s *FileStore) Close() error { return nil }

// Migrate is a no-op for the file store
func (s *FileStore) Migrate(ctx context.Context) error { return nil }

func (s *FileStore) recordPath(wasmHash string) string {
	return filepath.Join(s.dir, wasmHash+".json")
}

// InsertRecord inserts the record unless a file for its wasm hash exists.
func (s *FileStore) InsertRecord(ctx context.Context, rec *VerificationRecord) (*VerificationRecord, bool, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, false, fmt.Errorf("encoding record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".record-*")
	if err != nil {
		return nil, false, fmt.Errorf("creating temp record: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return nil, false, fmt.Errorf("writing record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, false, fmt.Errorf("closing record: %w", err)
	}

	final := s.recordPath(rec.WasmHash)
	if err := os.Link(tmpPath, final); err == nil {
		return rec, true, nil
	} else if !errors.Is(err, fs.ErrExist) {
		return nil, false, fmt.Errorf("linking record: %w", err)
	}

	// Lost the insert race or the record already existed.
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.GetRecord(ctx, rec.WasmHash)
	if err != nil {
		return nil, false, err
	}

	if rec.Status == StatusVerified && existing.Status == StatusUnverified {
		// Atomic replace of the unverified record.
		if err := os.Rename(tmpPath, final); err != nil {
			return nil, false, fmt.Errorf("replacing record: %w", err)
		}
		return rec, true, nil
	}

	return existing, false, nil
}

// GetRecord retrieves a record by wasm hash
func (s *FileStore) GetRecord(ctx context.Context, wasmHash string) (*VerificationRecord, error) {
	data, err := os.ReadFile(s.recordPath(wasmHash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}

	var rec VerificationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", wasmHash, err)
	}
	return &rec, nil
}

// ListRecords lists records sorted by wasm hash with cursor pagination
func (s *FileStore) ListRecords(ctx context.Context, filter RecordFilter, pagination PaginationParams) (*PaginatedResult[VerificationRecord], error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading records directory: %w", err)
	}

	var hashes []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		hash := strings.TrimSuffix(name, ".json")
		if hash > pagination.Cursor {
			hashes = append(hashes, hash)
		}
	}
	sort.Strings(hashes)

	var records []VerificationRecord
	for _, h := range hashes {
		rec, err := s.GetRecord(ctx, h)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // removed between ReadDir and read
			}
			return nil, err
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.Network != "" && rec.Network != filter.Network {
			continue
		}
		records = append(records, *rec)
		if len(records) > pagination.Limit {
			break
		}
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
	}, nil
}

// CreateAPIKey is not supported on the file store
func (s *FileStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	return "", ErrUnsupported
}

// ValidateAPIKey is not supported on the file store
func (s *FileStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	return nil, ErrUnsupported
}

// ListAPIKeys is not supported on the file store
func (s *FileStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	return nil, ErrUnsupported
}

// RevokeAPIKey is not supported on the file store
func (s *FileStore) RevokeAPIKey(ctx context.Context, id string) error {
	return ErrUnsupported
}
