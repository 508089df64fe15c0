// Package domain contains the verification pipeline business logic.
package domain

import (
	"errors"
	"fmt"
)

// Request is an accepted verification request. Immutable.
type Request struct {
	RepositoryURL string            `json:"repositoryUrl"`
	CommitHash    string            `json:"commitHash"`
	Params        map[string]string `json:"buildParams,omitempty"`
	RequestedBy   string            `json:"requestedBy,omitempty"`
}

// Stage names the pipeline stages. A request moves through them in order
// and ends in verified, unverified, or failed; terminal states never
// transition.
type Stage string

// Pipeline stages.
const (
	StagePending  Stage = "pending"
	StageFetching Stage = "fetching"
	StageBuilding Stage = "building"
	StageHashing  Stage = "hashing"
	StageMatching Stage = "matching"
)

// Sentinel errors for the failure taxonomy. Fetch and build failures are
// terminal for the request and never retried here; retry policy belongs to
// the caller.
var (
	ErrInvalidRequest    = errors.New("invalid verification request")
	ErrFetch             = errors.New("fetching source failed")
	ErrBuild             = errors.New("build failed")
	ErrNonDeterministic  = errors.New("build is not deterministic")
	ErrLedgerUnavailable = errors.New("ledger snapshot unavailable")
	ErrNotFound          = errors.New("not found")
)

// StageError reports which pipeline stage a request failed in. Failed
// outcomes are surfaced to the caller and never persisted.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage extracts the stage from an error returned by Verify, or ""
// when the error carries no stage.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
