// Package ledger provides the read-only snapshot of contract code hashes
// deployed on a target network, cached process-wide and refreshed out of
// band. Verification workers only ever read from it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pendergraft/wasmproof/internal/observability/metrics"
)

// ErrUnavailable is returned by Lookup before a snapshot has been loaded.
// Callers must fail the request rather than report unverified.
var ErrUnavailable = errors.New("ledger snapshot unavailable")

// Entry is a single deployed contract code hash in the snapshot.
type Entry struct {
	ContractHash string `json:"contractHash"`
	Network      string `json:"network"`
	ContractID   string `json:"contractId,omitempty"`
	DeployedAt   string `json:"deployedAt,omitempty"`
}

// Source loads a snapshot from somewhere external.
type Source interface {
	Fetch(ctx context.Context) ([]Entry, error)
}

// Cache holds the current snapshot. Safe for concurrent readers; only Load
// mutates it.
type Cache struct {
	source Source
	logger *slog.Logger

	mu       sync.RWMutex
	byHash   map[string]Entry
	loadedAt time.Time
}

// NewCache creates an empty cache backed by source. Lookup fails with
// ErrUnavailable until the first successful Load.
func NewCache(source Source, logger *slog.Logger) *Cache {
	return &Cache{
		source: source,
		logger: logger,
	}
}

// Load fetches a fresh snapshot and swaps it in.
func (c *Cache) Load(ctx context.Context) error {
	entries, err := c.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetching ledger snapshot: %w", err)
	}

	byHash := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byHash[e.ContractHash] = e
	}

	c.mu.Lock()
	c.byHash = byHash
	c.loadedAt = time.Now().UTC()
	c.mu.Unlock()

	metrics.SetLedgerEntries(len(byHash))
	c.logger.Info("ledger snapshot loaded", "entries", len(byHash))
	return nil
}

// Lookup finds the ledger entry for a contract hash. The boolean reports
// whether the hash is deployed; ErrUnavailable means no snapshot is loaded.
func (c *Cache) Lookup(contractHash string) (*Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.byHash == nil {
		return nil, false, ErrUnavailable
	}
	e, ok := c.byHash[contractHash]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

// Status describes the cache for health/status endpoints.
type Status struct {
	Entries  int       `json:"entries"`
	LoadedAt time.Time `json:"loadedAt"`
	Loaded   bool      `json:"loaded"`
}

// Status returns the current snapshot state.
func (c *Cache) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Entries:  len(c.byHash),
		LoadedAt: c.loadedAt,
		Loaded:   c.byHash != nil,
	}
}

// Refresh reloads the snapshot on the given interval until ctx is done.
// A failed refresh keeps the previous snapshot; staleness is preferable to
// an outage mid-verification.
func (c *Cache) Refresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Load(ctx); err != nil {
				metrics.RecordLedgerRefresh("error")
				c.logger.Error("ledger snapshot refresh failed", "error", err)
			} else {
				metrics.RecordLedgerRefresh("success")
			}
		case <-ctx.Done():
			return
		}
	}
}
