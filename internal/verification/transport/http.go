package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/wasmproof/internal/auth"
	"github.com/pendergraft/wasmproof/internal/ledger"
	"github.com/pendergraft/wasmproof/internal/storage"
	"github.com/pendergraft/wasmproof/internal/verification/domain"
)

// Service defines the verification service interface for HTTP transport.
type Service interface {
	Verify(ctx context.Context, req domain.Request) (*storage.VerificationRecord, error)
	Get(ctx context.Context, wasmHash string) (*storage.VerificationRecord, error)
	List(ctx context.Context, filter storage.RecordFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.VerificationRecord], error)
	LedgerStatus() ledger.Status
}

// Handler handles HTTP requests for verification.
type Handler struct {
	svc           Service
	verifyTimeout time.Duration
}

// NewHandler creates a new verification HTTP handler. verifyTimeout caps a
// single verification run end to end; zero means no cap beyond the build
// timeout.
func NewHandler(svc Service, verifyTimeout time.Duration) *Handler {
	return &Handler{svc: svc, verifyTimeout: verifyTimeout}
}

// RegisterReadRoutes registers routes that require no authentication.
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{wasmHash}", h.handleGet)
}

// RegisterWriteRoutes registers routes guarded by auth when enabled.
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/", h.handleVerify)
}

// RegisterLedgerRoutes registers the ledger status route.
func (h *Handler) RegisterLedgerRoutes(r chi.Router) {
	r.Get("/ledger", h.handleLedgerStatus)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON", "")
		return
	}

	dreq := req.ToDomain()
	// An authenticated caller names the requester; the body field only
	// stands when writes are open.
	if caller := auth.CallerID(r.Context()); caller != "" {
		dreq.RequestedBy = caller
	}

	ctx := r.Context()
	if h.verifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.verifyTimeout)
		defer cancel()
	}

	rec, err := h.svc.Verify(ctx, dreq)
	if err != nil {
		h.writeVerifyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromRecord(rec))
}

// writeVerifyError maps pipeline failures to HTTP responses. Failed runs
// are reported with their stage so the calling automation can surface it.
func (h *Handler) writeVerifyError(w http.ResponseWriter, err error) {
	stage := string(domain.FailedStage(err))

	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), "")
	case errors.Is(err, domain.ErrLedgerUnavailable):
		writeError(w, http.StatusServiceUnavailable, "LEDGER_UNAVAILABLE", err.Error(), stage)
	case errors.Is(err, domain.ErrNonDeterministic):
		writeError(w, http.StatusUnprocessableEntity, "NON_DETERMINISTIC_BUILD", err.Error(), stage)
	case errors.Is(err, domain.ErrFetch):
		writeError(w, http.StatusUnprocessableEntity, "FETCH_ERROR", err.Error(), stage)
	case errors.Is(err, domain.ErrBuild):
		writeError(w, http.StatusUnprocessableEntity, "BUILD_ERROR", err.Error(), stage)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "CANCELLED", "Verification cancelled", stage)
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to run verification", stage)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	wasmHash := chi.URLParam(r, "wasmHash")

	rec, err := h.svc.Get(r.Context(), wasmHash)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "No verification record for this hash", "")
		case errors.Is(err, domain.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), "")
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get record", "")
		}
		return
	}

	writeJSON(w, http.StatusOK, FromRecord(rec))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	result, err := h.svc.List(r.Context(),
		storage.RecordFilter{
			Status:  q.Get("status"),
			Network: q.Get("network"),
		},
		storage.PaginationParams{
			Limit:  limit,
			Cursor: q.Get("cursor"),
		},
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list records", "")
		return
	}

	data := make([]RecordResponse, len(result.Data))
	for i := range result.Data {
		data[i] = FromRecord(&result.Data[i])
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Data: data,
		Pagination: Pagination{
			Limit:      limit,
			HasMore:    result.HasMore,
			NextCursor: result.NextCursor,
		},
	})
}

func (h *Handler) handleLedgerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.LedgerStatus())
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, stage string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Stage:   stage,
		},
	})
}
