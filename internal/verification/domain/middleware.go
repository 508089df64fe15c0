package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/pendergraft/wasmproof/internal/ledger"
	"github.com/pendergraft/wasmproof/internal/storage"
)

// loggingService is the interface required for logging middleware.
type loggingService interface {
	Verify(ctx context.Context, req Request) (*storage.VerificationRecord, error)
	Get(ctx context.Context, wasmHash string) (*storage.VerificationRecord, error)
	List(ctx context.Context, filter storage.RecordFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.VerificationRecord], error)
	LedgerStatus() ledger.Status
}

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(loggingService) *loggingMiddleware {
	return func(next loggingService) *loggingMiddleware {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   loggingService
	logger *slog.Logger
}

func (m *loggingMiddleware) Verify(ctx context.Context, req Request) (*storage.VerificationRecord, error) {
	start := time.Now()
	rec, err := m.next.Verify(ctx, req)

	attrs := []any{
		"repository", req.RepositoryURL,
		"commit", req.CommitHash,
		"duration", time.Since(start),
	}
	if rec != nil {
		attrs = append(attrs, "wasmHash", rec.WasmHash, "status", rec.Status)
	}
	if err != nil {
		attrs = append(attrs, "stage", string(FailedStage(err)), "error", err)
		m.logger.Error("Verify", attrs...)
	} else {
		m.logger.Info("Verify", attrs...)
	}
	return rec, err
}

func (m *loggingMiddleware) Get(ctx context.Context, wasmHash string) (*storage.VerificationRecord, error) {
	start := time.Now()
	rec, err := m.next.Get(ctx, wasmHash)
	m.logger.Debug("Get",
		"wasmHash", wasmHash,
		"duration", time.Since(start),
		"error", err,
	)
	return rec, err
}

func (m *loggingMiddleware) List(ctx context.Context, filter storage.RecordFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.VerificationRecord], error) {
	start := time.Now()
	result, err := m.next.List(ctx, filter, pagination)
	m.logger.Debug("List",
		"status", filter.Status,
		"network", filter.Network,
		"limit", pagination.Limit,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}

func (m *loggingMiddleware) LedgerStatus() ledger.Status {
	return m.next.LedgerStatus()
}
