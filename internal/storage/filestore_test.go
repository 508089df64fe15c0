package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := NewFileStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return store
}

func TestFileStore_InsertAndGet(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	rec := testRecord(hashN(1), StatusVerified)
	rec.Network = "mainnet"
	rec.ContractID = "CCFILE"

	stored, inserted, err := store.InsertRecord(ctx, rec)
	if err != nil {
		t.Fatalf("InsertRecord() error = %v", err)
	}
	if !inserted {
		t.Error("InsertRecord() inserted = false, want true")
	}
	if stored.WasmHash != rec.WasmHash {
		t.Errorf("stored.WasmHash = %v", stored.WasmHash)
	}

	got, err := store.GetRecord(ctx, rec.WasmHash)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got.ContractID != "CCFILE" || got.BuildParams["package"] != "hello_world" {
		t.Errorf("got = %+v", got)
	}

	if _, err := store.GetRecord(ctx, hashN(999)); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRecord(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFileStore_DuplicateInsertReturnsExisting(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	first := testRecord(hashN(2), StatusUnverified)
	if _, _, err := store.InsertRecord(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := testRecord(hashN(2), StatusUnverified)
	second.ID = "rec-other"
	stored, inserted, err := store.InsertRecord(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("duplicate insert reported inserted = true")
	}
	if stored.ID != first.ID {
		t.Errorf("stored.ID = %v, want %v", stored.ID, first.ID)
	}
}

func TestFileStore_VerifiedReplacesUnverified(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	unverified := testRecord(hashN(3), StatusUnverified)
	if _, _, err := store.InsertRecord(ctx, unverified); err != nil {
		t.Fatal(err)
	}

	verified := testRecord(hashN(3), StatusVerified)
	verified.Network = "mainnet"
	verified.ContractID = "CCUP"
	stored, inserted, err := store.InsertRecord(ctx, verified)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted || stored.Status != StatusVerified {
		t.Errorf("inserted = %v, stored = %+v", inserted, stored)
	}

	// The downgrade direction never replaces.
	downgrade := testRecord(hashN(3), StatusUnverified)
	stored, inserted, err = store.InsertRecord(ctx, downgrade)
	if err != nil {
		t.Fatal(err)
	}
	if inserted || stored.Status != StatusVerified {
		t.Errorf("unverified replaced verified: inserted = %v, stored = %+v", inserted, stored)
	}
}

func TestFileStore_ConcurrentInsertSingleWinner(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	insertedCount := make(chan bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := testRecord(hashN(4), StatusUnverified)
			rec.ID = fmt.Sprintf("rec-%d", i)
			_, inserted, err := store.InsertRecord(ctx, rec)
			if err != nil {
				t.Errorf("InsertRecord() error = %v", err)
				return
			}
			insertedCount <- inserted
		}(i)
	}
	wg.Wait()
	close(insertedCount)

	wins := 0
	for inserted := range insertedCount {
		if inserted {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
}

func TestFileStore_ListRecords(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	for i := 10; i < 14; i++ {
		status := StatusUnverified
		if i%2 == 0 {
			status = StatusVerified
		}
		rec := testRecord(hashN(i), status)
		if _, _, err := store.InsertRecord(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	result, err := store.ListRecords(ctx, RecordFilter{}, PaginationParams{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Data) != 3 || !result.HasMore {
		t.Fatalf("page1 = %d records, hasMore = %v", len(result.Data), result.HasMore)
	}

	page2, err := store.ListRecords(ctx, RecordFilter{}, PaginationParams{Limit: 3, Cursor: result.NextCursor})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Data) != 1 || page2.HasMore {
		t.Fatalf("page2 = %d records, hasMore = %v", len(page2.Data), page2.HasMore)
	}

	verified, err := store.ListRecords(ctx, RecordFilter{Status: StatusVerified}, PaginationParams{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(verified.Data) != 2 {
		t.Errorf("verified = %d records, want 2", len(verified.Data))
	}
}

func TestFileStore_APIKeysUnsupported(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	if _, err := store.CreateAPIKey(ctx, "x"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("CreateAPIKey() error = %v, want ErrUnsupported", err)
	}
	if _, err := store.ValidateAPIKey(ctx, "x"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ValidateAPIKey() error = %v, want ErrUnsupported", err)
	}
}
