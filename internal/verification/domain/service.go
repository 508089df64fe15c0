package domain

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/pendergraft/wasmproof/internal/build"
	"github.com/pendergraft/wasmproof/internal/fetch"
	"github.com/pendergraft/wasmproof/internal/ledger"
	"github.com/pendergraft/wasmproof/internal/observability/metrics"
	"github.com/pendergraft/wasmproof/internal/sandbox"
	"github.com/pendergraft/wasmproof/internal/storage"
	"github.com/pendergraft/wasmproof/internal/validation"
)

// RecordStore defines the storage operations needed by the pipeline.
type RecordStore interface {
	InsertRecord(ctx context.Context, rec *storage.VerificationRecord) (*storage.VerificationRecord, bool, error)
	GetRecord(ctx context.Context, wasmHash string) (*storage.VerificationRecord, error)
	ListRecords(ctx context.Context, filter storage.RecordFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.VerificationRecord], error)
}

// Ledger defines the read-only snapshot operations needed by the pipeline.
type Ledger interface {
	Lookup(contractHash string) (*ledger.Entry, bool, error)
	Status() ledger.Status
}

// Options holds pipeline tuning knobs.
type Options struct {
	// WorkDir is the base directory for per-request sandboxes
	// (os.TempDir when empty).
	WorkDir string
	// BuildTimeout caps a single build invocation.
	BuildTimeout time.Duration
	// VerifyDeterminism builds twice and compares artifact bytes.
	VerifyDeterminism bool
}

type service struct {
	records RecordStore
	fetcher fetch.Fetcher
	builder build.Builder
	ledger  Ledger
	opts    Options

	now   func() time.Time
	newID func() string
}

// NewService creates a new verification pipeline service.
func NewService(records RecordStore, fetcher fetch.Fetcher, builder build.Builder, lgr Ledger, opts Options) *service {
	return &service{
		records: records,
		fetcher: fetcher,
		builder: builder,
		ledger:  lgr,
		opts:    opts,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Verify runs the full pipeline for one request: fetch, hermetic build,
// hash, ledger lookup, record. Each call gets its own sandbox; the record
// store is the only shared mutable state and its insert discipline
// serializes writers per wasm hash.
func (s *service) Verify(ctx context.Context, req Request) (*storage.VerificationRecord, error) {
	owner, repo, err := validation.ParseRepository(req.RepositoryURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := validation.ValidateCommitHash(req.CommitHash); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := validation.ValidateBuildParams(req.Params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	ws, err := sandbox.New(s.opts.WorkDir)
	if err != nil {
		return nil, &StageError{Stage: StagePending, Err: err}
	}
	defer ws.Close()

	// Fetch
	start := s.now()
	if err := s.fetcher.Fetch(ctx, owner, repo, req.CommitHash, ws.CodeDir()); err != nil {
		return nil, &StageError{Stage: StageFetching, Err: fmt.Errorf("%w: %v", ErrFetch, err)}
	}
	metrics.ObserveStage(string(StageFetching), s.now().Sub(start).Seconds())

	// Build
	start = s.now()
	params := build.FromMap(req.Params)
	artifact, err := s.runBuild(ctx, ws.CodeDir(), ws.WasmDir(), params)
	if err != nil {
		return nil, &StageError{Stage: StageBuilding, Err: fmt.Errorf("%w: %v", ErrBuild, err)}
	}

	if s.opts.VerifyDeterminism {
		if err := s.checkDeterminism(ctx, ws, params, artifact); err != nil {
			return nil, &StageError{Stage: StageBuilding, Err: err}
		}
	}
	metrics.ObserveStage(string(StageBuilding), s.now().Sub(start).Seconds())

	// Hash
	wasmHash := hashBytes(artifact.Bytes)
	var optimizedHash string
	if len(artifact.OptimizedBytes) > 0 {
		optimizedHash = hashBytes(artifact.OptimizedBytes)
	}

	// Match. On a ledger outage the request fails; an unverified record
	// here would be a false negative.
	start = s.now()
	entry, matched, err := s.lookup(wasmHash, optimizedHash)
	if err != nil {
		return nil, &StageError{Stage: StageMatching, Err: fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)}
	}
	metrics.ObserveStage(string(StageMatching), s.now().Sub(start).Seconds())

	rec := &storage.VerificationRecord{
		ID:          s.newID(),
		WasmHash:    wasmHash,
		Status:      storage.StatusUnverified,
		Repository:  owner + "/" + repo,
		CommitHash:  req.CommitHash,
		Package:     req.Params["package"],
		BuildParams: req.Params,
		RequestedBy: req.RequestedBy,
		CreatedAt:   s.now().UTC().Format(time.RFC3339),
	}
	if matched {
		rec.Status = storage.StatusVerified
		rec.Network = entry.Network
		rec.ContractID = entry.ContractID
		// The deployed code may carry the optimized hash; the record is
		// keyed by whichever hash matched.
		rec.WasmHash = entry.ContractHash
	}

	// Record. Insert-if-absent: when a record for this hash already
	// exists, the stored one wins and this run's outcome is discarded.
	stored, _, err := s.records.InsertRecord(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("persisting record: %w", err)
	}

	metrics.RecordVerification(stored.Status)
	return stored, nil
}

// runBuild invokes the builder under the configured timeout.
func (s *service) runBuild(ctx context.Context, srcDir, outDir string, params build.Params) (*build.Artifact, error) {
	if s.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.BuildTimeout)
		defer cancel()
	}
	return s.builder.Build(ctx, srcDir, outDir, params)
}

// checkDeterminism builds a second time from the same tree and parameters
// and compares artifact bytes. Divergence is a reportable anomaly distinct
// from an ordinary build failure.
func (s *service) checkDeterminism(ctx context.Context, ws *sandbox.Workspace, params build.Params, first *build.Artifact) error {
	outDir := filepath.Join(ws.Root(), "wasm-repeat")
	if err := os.Mkdir(outDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}

	second, err := s.runBuild(ctx, ws.CodeDir(), outDir, params)
	if err != nil {
		return fmt.Errorf("%w: repeat build: %v", ErrBuild, err)
	}
	if !bytes.Equal(first.Bytes, second.Bytes) {
		return fmt.Errorf("%w: artifacts differ across identical builds (%s vs %s)",
			ErrNonDeterministic, hashBytes(first.Bytes), hashBytes(second.Bytes))
	}
	// The optimized artifact can be the one matching the ledger, so it is
	// held to the same standard.
	if !bytes.Equal(first.OptimizedBytes, second.OptimizedBytes) {
		return fmt.Errorf("%w: optimized artifacts differ across identical builds (%s vs %s)",
			ErrNonDeterministic, hashBytes(first.OptimizedBytes), hashBytes(second.OptimizedBytes))
	}
	return nil
}

// lookup queries the ledger for the unoptimized hash, then for the
// optimized variant. Deployments may have been made from either artifact.
func (s *service) lookup(wasmHash, optimizedHash string) (*ledger.Entry, bool, error) {
	entry, ok, err := s.ledger.Lookup(wasmHash)
	if err != nil || ok {
		return entry, ok, err
	}
	if optimizedHash == "" {
		return nil, false, nil
	}
	return s.ledger.Lookup(optimizedHash)
}

// Get returns the persisted record for a wasm hash.
func (s *service) Get(ctx context.Context, wasmHash string) (*storage.VerificationRecord, error) {
	if err := validation.ValidateWasmHash(wasmHash); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	rec, err := s.records.GetRecord(ctx, wasmHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return rec, nil
}

// List returns persisted records, newest hash order, cursor-paginated.
func (s *service) List(ctx context.Context, filter storage.RecordFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.VerificationRecord], error) {
	if pagination.Limit <= 0 || pagination.Limit > 100 {
		pagination.Limit = 50
	}
	return s.records.ListRecords(ctx, filter, pagination)
}

// LedgerStatus reports the state of the ledger snapshot cache.
func (s *service) LedgerStatus() ledger.Status {
	return s.ledger.Status()
}

func hashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
