// Package transport provides HTTP handlers for the verification domain.
package transport

import (
	"github.com/pendergraft/wasmproof/internal/storage"
	"github.com/pendergraft/wasmproof/internal/verification/domain"
)

// VerifyRequest is the HTTP request body for submitting a verification.
type VerifyRequest struct {
	Repository  string            `json:"repository"`
	CommitHash  string            `json:"commitHash"`
	BuildParams map[string]string `json:"buildParams,omitempty"`
	RequestedBy string            `json:"requestedBy,omitempty"`
}

// ToDomain converts VerifyRequest to domain.Request.
func (r VerifyRequest) ToDomain() domain.Request {
	return domain.Request{
		RepositoryURL: r.Repository,
		CommitHash:    r.CommitHash,
		Params:        r.BuildParams,
		RequestedBy:   r.RequestedBy,
	}
}

// RecordResponse is the serialized verification record.
type RecordResponse struct {
	ID          string            `json:"id"`
	WasmHash    string            `json:"wasmHash"`
	Status      string            `json:"status"`
	Network     string            `json:"network,omitempty"`
	ContractID  string            `json:"contractId,omitempty"`
	Repository  string            `json:"repository"`
	CommitHash  string            `json:"commitHash"`
	Package     string            `json:"package,omitempty"`
	BuildParams map[string]string `json:"buildParams,omitempty"`
	CreatedAt   string            `json:"createdAt"`
}

// FromRecord converts a stored record to its response shape.
func FromRecord(rec *storage.VerificationRecord) RecordResponse {
	return RecordResponse{
		ID:          rec.ID,
		WasmHash:    rec.WasmHash,
		Status:      rec.Status,
		Network:     rec.Network,
		ContractID:  rec.ContractID,
		Repository:  rec.Repository,
		CommitHash:  rec.CommitHash,
		Package:     rec.Package,
		BuildParams: rec.BuildParams,
		CreatedAt:   rec.CreatedAt,
	}
}

// ListResponse is the response for listing records.
type ListResponse struct {
	Data       []RecordResponse `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

// Pagination contains pagination info.
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}
