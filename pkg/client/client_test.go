package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "wp_key_test", WithHTTPClient(srv.Client()))
}

func TestVerify(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/verifications" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-API-Key"); got != "wp_key_test" {
			t.Errorf("X-API-Key = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}

		var req VerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Repository != "stellar/soroban-examples" {
			t.Errorf("repository = %q", req.Repository)
		}

		json.NewEncoder(w).Encode(Record{
			ID:         "rec-1",
			WasmHash:   testHash,
			Status:     "verified",
			Network:    "mainnet",
			Repository: req.Repository,
			CommitHash: req.CommitHash,
		})
	})

	rec, err := c.Verify(context.Background(), VerifyRequest{
		Repository:  "stellar/soroban-examples",
		CommitHash:  "4a7df02c415dc2aa1e412c5eeb3d3ba06b0f796f",
		BuildParams: map[string]string{"package": "hello-world", "toolchain": "1.84.1"},
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.Status != "verified" || rec.Network != "mainnet" {
		t.Errorf("record = %+v", rec)
	}
}

func TestGetRecord(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/verifications/"+testHash {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Record{ID: "rec-1", WasmHash: testHash, Status: "unverified"})
	})

	rec, err := c.GetRecord(context.Background(), testHash)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec.WasmHash != testHash {
		t.Errorf("wasmHash = %q", rec.WasmHash)
	}
}

func TestListRecords(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "verified" || q.Get("network") != "testnet" ||
			q.Get("limit") != "25" || q.Get("cursor") != "abc" {
			t.Errorf("query = %v", q)
		}
		json.NewEncoder(w).Encode(ListResponse{
			Data:       []Record{{ID: "rec-1"}},
			Pagination: Pagination{Limit: 25, HasMore: true, NextCursor: testHash},
		})
	})

	resp, err := c.ListRecords(context.Background(), ListOptions{
		Status:  "verified",
		Network: "testnet",
		Limit:   25,
		Cursor:  "abc",
	})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(resp.Data) != 1 || !resp.Pagination.HasMore {
		t.Errorf("response = %+v", resp)
	}
}

func TestGetLedgerStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ledger" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"entries": 42, "loaded": true})
	})

	status, err := c.GetLedgerStatus(context.Background())
	if err != nil {
		t.Fatalf("GetLedgerStatus: %v", err)
	}
	if status.Entries != 42 || !status.Loaded {
		t.Errorf("status = %+v", status)
	}
}

func TestAPIErrorParsing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"code":    "BUILD_ERROR",
				"message": "cargo build failed",
				"stage":   "building",
			},
		})
	})

	_, err := c.Verify(context.Background(), VerifyRequest{})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type %T", err)
	}
	if apiErr.Code != "BUILD_ERROR" || apiErr.Stage != "building" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if want := "BUILD_ERROR (stage building): cargo build failed"; apiErr.Error() != want {
		t.Errorf("Error() = %q, want %q", apiErr.Error(), want)
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := c.GetRecord(context.Background(), testHash)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "" {
		t.Errorf("plain text body parsed into empty APIError")
	}
}

func TestNoAPIKeyOmitsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["X-Api-Key"]; ok {
			t.Error("X-API-Key sent for anonymous client")
		}
		json.NewEncoder(w).Encode(ListResponse{})
	}))
	defer srv.Close()

	c := New(srv.URL, "", WithHTTPClient(srv.Client()))
	if _, err := c.ListRecords(context.Background(), ListOptions{}); err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
}
