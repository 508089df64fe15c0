package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"log/slog"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "wasmproof-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := NewSQLiteStore(filepath.Join(tmpDir, "test.db"), logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	return store
}

func testRecord(hash, status string) *VerificationRecord {
	return &VerificationRecord{
		ID:          "rec-" + hash[:8],
		WasmHash:    hash,
		Status:      status,
		Repository:  "stellar/soroban-examples",
		CommitHash:  "4a7df02c415dc2aa1e412c5eeb3d3ba06b0f796f",
		Package:     "hello_world",
		BuildParams: map[string]string{"package": "hello_world", "toolchain": "1.84.1"},
		RequestedBy: "test",
		CreatedAt:   "2025-06-01T12:00:00Z",
	}
}

// hashN builds a unique 64-char hex hash for test data
func hashN(n int) string {
	return fmt.Sprintf("%064x", n)
}

func TestSQLiteStore_Records(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	t.Run("InsertAndGet", func(t *testing.T) {
		rec := testRecord(hashN(1), StatusUnverified)
		stored, inserted, err := store.InsertRecord(ctx, rec)
		if err != nil {
			t.Fatalf("InsertRecord() error = %v", err)
		}
		if !inserted {
			t.Error("InsertRecord() inserted = false, want true")
		}
		if stored.ID != rec.ID {
			t.Errorf("stored.ID = %v, want %v", stored.ID, rec.ID)
		}

		got, err := store.GetRecord(ctx, rec.WasmHash)
		if err != nil {
			t.Fatalf("GetRecord() error = %v", err)
		}
		if got.Status != StatusUnverified {
			t.Errorf("got.Status = %v, want %v", got.Status, StatusUnverified)
		}
		if got.Repository != rec.Repository {
			t.Errorf("got.Repository = %v, want %v", got.Repository, rec.Repository)
		}
		if got.BuildParams["toolchain"] != "1.84.1" {
			t.Errorf("got.BuildParams = %v", got.BuildParams)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.GetRecord(ctx, hashN(999))
		if err != ErrNotFound {
			t.Errorf("GetRecord() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("DuplicateInsertReturnsExisting", func(t *testing.T) {
		first := testRecord(hashN(2), StatusVerified)
		first.Network = "mainnet"
		first.ContractID = "CCFIRST"
		if _, _, err := store.InsertRecord(ctx, first); err != nil {
			t.Fatal(err)
		}

		second := testRecord(hashN(2), StatusVerified)
		second.ID = "rec-other"
		second.ContractID = "CCSECOND"
		stored, inserted, err := store.InsertRecord(ctx, second)
		if err != nil {
			t.Fatal(err)
		}
		if inserted {
			t.Error("second insert reported inserted = true")
		}
		if stored.ID != first.ID || stored.ContractID != "CCFIRST" {
			t.Errorf("stored = %+v, want first record to win", stored)
		}
	})

	t.Run("VerifiedReplacesUnverified", func(t *testing.T) {
		unverified := testRecord(hashN(3), StatusUnverified)
		if _, _, err := store.InsertRecord(ctx, unverified); err != nil {
			t.Fatal(err)
		}

		verified := testRecord(hashN(3), StatusVerified)
		verified.ID = "rec-upgrade"
		verified.Network = "mainnet"
		verified.ContractID = "CCUP"
		stored, inserted, err := store.InsertRecord(ctx, verified)
		if err != nil {
			t.Fatal(err)
		}
		if !inserted {
			t.Error("verified record did not replace unverified one")
		}
		if stored.Status != StatusVerified {
			t.Errorf("stored.Status = %v, want verified", stored.Status)
		}

		got, err := store.GetRecord(ctx, hashN(3))
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != StatusVerified || got.ContractID != "CCUP" {
			t.Errorf("got = %+v, want the verified record", got)
		}
	})

	t.Run("UnverifiedNeverReplacesVerified", func(t *testing.T) {
		verified := testRecord(hashN(4), StatusVerified)
		verified.Network = "mainnet"
		if _, _, err := store.InsertRecord(ctx, verified); err != nil {
			t.Fatal(err)
		}

		unverified := testRecord(hashN(4), StatusUnverified)
		unverified.ID = "rec-down"
		stored, inserted, err := store.InsertRecord(ctx, unverified)
		if err != nil {
			t.Fatal(err)
		}
		if inserted {
			t.Error("unverified insert replaced a verified record")
		}
		if stored.Status != StatusVerified {
			t.Errorf("stored.Status = %v, want verified", stored.Status)
		}
	})
}

func TestSQLiteStore_ListRecords(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 10; i < 15; i++ {
		status := StatusUnverified
		if i%2 == 0 {
			status = StatusVerified
		}
		rec := testRecord(hashN(i), status)
		if status == StatusVerified {
			rec.Network = "mainnet"
		}
		if _, _, err := store.InsertRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("All", func(t *testing.T) {
		result, err := store.ListRecords(ctx, RecordFilter{}, PaginationParams{Limit: 10})
		if err != nil {
			t.Fatal(err)
		}
		if len(result.Data) != 5 {
			t.Errorf("len(Data) = %d, want 5", len(result.Data))
		}
		if result.HasMore {
			t.Error("HasMore = true, want false")
		}
	})

	t.Run("FilterStatus", func(t *testing.T) {
		result, err := store.ListRecords(ctx, RecordFilter{Status: StatusVerified}, PaginationParams{Limit: 10})
		if err != nil {
			t.Fatal(err)
		}
		if len(result.Data) != 3 {
			t.Errorf("len(Data) = %d, want 3", len(result.Data))
		}
		for _, rec := range result.Data {
			if rec.Status != StatusVerified {
				t.Errorf("record %s has status %s", rec.WasmHash, rec.Status)
			}
		}
	})

	t.Run("FilterNetwork", func(t *testing.T) {
		result, err := store.ListRecords(ctx, RecordFilter{Network: "mainnet"}, PaginationParams{Limit: 10})
		if err != nil {
			t.Fatal(err)
		}
		if len(result.Data) != 3 {
			t.Errorf("len(Data) = %d, want 3", len(result.Data))
		}
	})

	t.Run("Pagination", func(t *testing.T) {
		page1, err := store.ListRecords(ctx, RecordFilter{}, PaginationParams{Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		if len(page1.Data) != 2 || !page1.HasMore || page1.NextCursor == "" {
			t.Fatalf("page1 = %d records, hasMore=%v, cursor=%q", len(page1.Data), page1.HasMore, page1.NextCursor)
		}

		page2, err := store.ListRecords(ctx, RecordFilter{}, PaginationParams{Limit: 10, Cursor: page1.NextCursor})
		if err != nil {
			t.Fatal(err)
		}
		if len(page2.Data) != 3 {
			t.Errorf("page2 = %d records, want 3", len(page2.Data))
		}
		for _, rec := range page2.Data {
			for _, prev := range page1.Data {
				if rec.WasmHash == prev.WasmHash {
					t.Errorf("record %s appears on both pages", rec.WasmHash)
				}
			}
		}
	})
}

func TestSQLiteStore_APIKeys(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	key, err := store.CreateAPIKey(ctx, "ci-key")
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}
	if !strings.HasPrefix(key, "wp_key_") {
		t.Errorf("key = %q, want wp_key_ prefix", key)
	}

	info, err := store.ValidateAPIKey(ctx, key)
	if err != nil {
		t.Fatalf("ValidateAPIKey() error = %v", err)
	}
	if info.Name != "ci-key" {
		t.Errorf("info.Name = %q, want ci-key", info.Name)
	}

	if _, err := store.ValidateAPIKey(ctx, "wp_key_bogus"); err == nil {
		t.Error("ValidateAPIKey() accepted a bogus key")
	}

	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 {
		t.Fatalf("len(keys) = %d, want 1", len(keys))
	}

	if err := store.RevokeAPIKey(ctx, keys[0].ID); err != nil {
		t.Fatalf("RevokeAPIKey() error = %v", err)
	}

	if _, err := store.ValidateAPIKey(ctx, key); err == nil {
		t.Error("ValidateAPIKey() accepted a revoked key")
	}
}
