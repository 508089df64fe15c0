//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pendergraft/wasmproof/internal/config"
	"github.com/pendergraft/wasmproof/internal/ledger"
	"github.com/pendergraft/wasmproof/internal/server"
	"github.com/pendergraft/wasmproof/internal/storage"
	"github.com/pendergraft/wasmproof/pkg/client"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Ledger fixture hashes. Verified records in the tests point at these.
const (
	ledgerHashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	ledgerHashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	LedgerPath        string
	TestServer        *httptest.Server
	Store             storage.Store
}

// setupPostgresE starts a Postgres container and returns the connection string
// (error-returning variant for TestMain)
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("wasmproof"),
		postgres.WithUsername("wasmproof"),
		postgres.WithPassword("wasmproof"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// writeLedgerFixtureE writes a two-entry ledger snapshot to a temp file
func writeLedgerFixtureE() (string, error) {
	f, err := os.CreateTemp("", "wasmproof-ledger-*.json")
	if err != nil {
		return "", err
	}
	snapshot := fmt.Sprintf(`[
		{"contractHash": %q, "network": "mainnet", "contractId": "CAAAALEDGERCONTRACTA"},
		{"contractHash": %q, "network": "testnet", "contractId": "CBBBBLEDGERCONTRACTB"}
	]`, ledgerHashA, ledgerHashB)
	if _, err := f.WriteString(snapshot); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// startServerE starts the wasmproof server in-process (error-returning variant for TestMain)
func startServerE(connString, ledgerPath string) (*httptest.Server, storage.Store, error) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			RequestTimeout: 120,
		},
		Storage: config.StorageConfig{
			Type: "postgres",
			Postgres: config.PostgresConfig{
				URL: connString,
			},
		},
		Ledger: config.LedgerConfig{
			Source: "file",
			Path:   ledgerPath,
		},
		Build: config.BuildConfig{
			TimeoutSeconds:    60,
			VerifyDeterminism: true,
			EnvAllowlist:      []string{"PATH", "HOME"},
		},
		Auth:      config.AuthConfig{Type: "api-key"},
		Logging:   config.LoggingConfig{Level: "debug", Format: "text"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Security:  config.SecurityConfig{FilterEnabled: false, MaxBodySizeMB: 50},
		Proxy:     config.ProxyConfig{TrustProxy: false},
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	ledgerCache := ledger.NewCache(&ledger.FileSource{Path: ledgerPath}, logger)
	if err := ledgerCache.Load(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to load ledger snapshot: %w", err)
	}

	srv := server.New(cfg, store, ledgerCache, logger)
	testServer := httptest.NewServer(srv.Handler())

	return testServer, store, nil
}

// newClient creates a new API client for the test server
func newClient(testServer *httptest.Server, apiKey string) *client.Client {
	return client.New(testServer.URL, apiKey)
}

// createTestAPIKey creates a test API key using the store directly
func createTestAPIKey(t *testing.T, store storage.Store, name string) string {
	key, err := store.CreateAPIKey(context.Background(), name)
	require.NoError(t, err, "Failed to create API key")
	return key
}

// seedRecord inserts a verification record directly through the store
func seedRecord(t *testing.T, rec storage.VerificationRecord) *storage.VerificationRecord {
	t.Helper()
	stored, _, err := testCtx.Store.InsertRecord(context.Background(), &rec)
	require.NoError(t, err, "Failed to seed record")
	return stored
}

// assertHTTPError asserts that an error is an APIError with the expected code
func assertHTTPError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	require.Error(t, err, "Expected an error")
	apiErr, ok := err.(*client.APIError)
	require.True(t, ok, "Error should be an APIError")
	require.Equal(t, expectedCode, apiErr.Code, "Error code mismatch")
}
