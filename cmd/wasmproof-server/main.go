package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/wasmproof/internal/build"
	"github.com/pendergraft/wasmproof/internal/build/soroban"
	"github.com/pendergraft/wasmproof/internal/config"
	"github.com/pendergraft/wasmproof/internal/fetch"
	"github.com/pendergraft/wasmproof/internal/ledger"
	"github.com/pendergraft/wasmproof/internal/observability/metrics"
	"github.com/pendergraft/wasmproof/internal/sandbox"
	"github.com/pendergraft/wasmproof/internal/server"
	"github.com/pendergraft/wasmproof/internal/storage"
	"github.com/pendergraft/wasmproof/internal/validation"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "wasmproof-server",
		Short:   "Wasmproof server - reproducible wasm contract verification",
		Version: version,
	}

	// Default behavior (no subcommand) is to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe()
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newKeysCmd())
	rootCmd.AddCommand(newVerifyCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}

	cmd.AddCommand(newKeysCreateCmd())
	cmd.AddCommand(newKeysListCmd())
	cmd.AddCommand(newKeysRevokeCmd())

	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	var name string
	var outputFile string
	var quiet bool
	var show bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Create a new API key for submitting verification requests.

By default, the key is written to a file in the current directory.
The key is only shown once - it cannot be retrieved later.

EXAMPLES:
  # Create key, write to file (default)
  wasmproof-server keys create --name "ci-verify"

  # Create key, write to specific file
  wasmproof-server keys create --name "ci-verify" --output /secure/path/key.txt

  # Create key, print only (for piping to secrets manager)
  wasmproof-server keys create --name "ci-verify" --quiet | gh secret set WASMPROOF_API_KEY

  # Create key, display on screen
  wasmproof-server keys create --name "ci-verify" --show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysCreate(name, outputFile, quiet, show)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "name/label for the key (required)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write key to file (default: ./wasmproof-key-{name}.txt)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the key (for piping)")
	cmd.Flags().BoolVar(&show, "show", false, "display key on screen")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysList()
		},
	}
}

func newKeysRevokeCmd() *cobra.Command {
	var keyID string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an API key",
		Long: `Revoke an API key to prevent further use.

Use 'wasmproof-server keys list' to find the key ID.

EXAMPLES:
  wasmproof-server keys revoke --id abc123
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysRevoke(keyID)
		},
	}

	cmd.Flags().StringVar(&keyID, "id", "", "key ID to revoke (required)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func newVerifyCmd() *cobra.Command {
	var (
		repo      string
		sha       string
		pkg       string
		toolchain string
		dir       string
		profile   string
		expected  string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run one verification locally, without the HTTP server",
		Long: `Fetch a repository at a commit, build the wasm contract hermetically,
hash the artifact and compare it against an expected hash or the
configured ledger snapshot.

Exits non-zero when the hashes do not match.

EXAMPLES:
  # Compare against an explicit on-chain hash
  wasmproof-server verify --repo stellar/soroban-examples --sha 4a7df... \
    --package hello_world --toolchain 1.84.1 --hash e3b0c4...

  # Match against the configured ledger snapshot (LEDGER_PATH / LEDGER_URL)
  wasmproof-server verify --repo stellar/soroban-examples --sha 4a7df... \
    --package hello_world --toolchain 1.84.1
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyOnce(cmd.Context(), repo, sha, pkg, toolchain, dir, profile, expected)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "repository as owner/name or URL (required)")
	cmd.Flags().StringVar(&sha, "sha", "", "full commit hash (required)")
	cmd.Flags().StringVar(&pkg, "package", "", "cargo package name (required)")
	cmd.Flags().StringVar(&toolchain, "toolchain", "", "pinned Rust toolchain, e.g. 1.84.1 (required)")
	cmd.Flags().StringVar(&dir, "dir", "", "subdirectory of the source tree to build in")
	cmd.Flags().StringVar(&profile, "profile", "", "cargo profile override")
	cmd.Flags().StringVar(&expected, "hash", "", "expected wasm hash; omit to match against the ledger snapshot")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("sha")
	_ = cmd.MarkFlagRequired("package")
	_ = cmd.MarkFlagRequired("toolchain")

	return cmd
}

// Key management commands

func runKeysCreate(name, outputFile string, quiet, show bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.New(cfg.Storage, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	key, err := store.CreateAPIKey(context.Background(), name)
	if err != nil {
		return fmt.Errorf("creating API key: %w", err)
	}

	if quiet {
		fmt.Println(key)
		return nil
	}

	if show {
		fmt.Println("⚠️  API key (save this - it cannot be retrieved later):")
		fmt.Println()
		fmt.Println("   ", key)
		fmt.Println()
		return nil
	}

	if outputFile == "" {
		outputFile = fmt.Sprintf("./wasmproof-key-%s.txt", name)
	}

	dir := filepath.Dir(outputFile)
	if dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}

	if err := os.WriteFile(outputFile, []byte(key+"\n"), 0600); err != nil {
		return fmt.Errorf("writing key to file: %w", err)
	}

	fmt.Printf("✅ API key created: %s\n", name)
	fmt.Printf("   Written to: %s (mode 0600)\n", outputFile)
	fmt.Println()
	fmt.Println("   ⚠️  This key cannot be retrieved later. Keep it safe!")
	fmt.Println()
	fmt.Println("   Usage:")
	fmt.Println("     export WASMPROOF_API_KEY=$(cat", outputFile+")")
	fmt.Println("     wasmproof verify --repo owner/repo --sha <commit> --package my_contract")

	return nil
}

func runKeysList() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.New(cfg.Storage, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys found")
		fmt.Println()
		fmt.Println("Create one with: wasmproof-server keys create --name \"my-key\"")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != "" {
			lastUsed = k.LastUsedAt
		}
		idDisplay := k.ID
		if len(k.ID) > 8 {
			idDisplay = k.ID[:8] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", idDisplay, k.Name, k.CreatedAt, lastUsed)
	}
	w.Flush()

	return nil
}

func runKeysRevoke(keyID string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.New(cfg.Storage, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	keys, err := store.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("listing API keys: %w", err)
	}

	var fullKeyID string
	for _, k := range keys {
		if k.ID == keyID || (len(keyID) >= 8 && k.ID[:8] == keyID[:8]) {
			fullKeyID = k.ID
			break
		}
	}

	if fullKeyID == "" {
		return fmt.Errorf("key not found: %s", keyID)
	}

	if err := store.RevokeAPIKey(context.Background(), fullKeyID); err != nil {
		return fmt.Errorf("revoking API key: %w", err)
	}

	fmt.Printf("✅ API key revoked: %s\n", keyID)
	return nil
}

// One-shot verification

func runVerifyOnce(ctx context.Context, repoArg, sha, pkg, toolchain, dir, profile, expected string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	owner, repo, err := validation.ParseRepository(repoArg)
	if err != nil {
		return err
	}
	if err := validation.ValidateCommitHash(sha); err != nil {
		return err
	}
	if expected != "" {
		if err := validation.ValidateWasmHash(expected); err != nil {
			return fmt.Errorf("--hash: %w", err)
		}
	}

	params := build.Params{Package: pkg, Toolchain: toolchain, Dir: dir, Profile: profile}

	ws, err := sandbox.New(cfg.Build.WorkDir)
	if err != nil {
		return fmt.Errorf("creating sandbox: %w", err)
	}
	defer ws.Close()

	fmt.Printf("Fetching %s/%s at %s...\n", owner, repo, sha)
	if err := fetch.NewGitHubFetcher().Fetch(ctx, owner, repo, sha, ws.CodeDir()); err != nil {
		return fmt.Errorf("fetching source: %w", err)
	}

	fmt.Printf("Building package %s with toolchain %s...\n", pkg, toolchain)
	builder := soroban.New(build.ExecRunner{}, cfg.Build.EnvAllowlist)
	buildCtx := ctx
	if cfg.Build.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Build.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	artifact, err := builder.Build(buildCtx, ws.CodeDir(), ws.WasmDir(), params)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	sum := sha256.Sum256(artifact.Bytes)
	wasmHash := hex.EncodeToString(sum[:])
	fmt.Printf("Artifact hash: %s\n", wasmHash)

	var optimizedHash string
	if len(artifact.OptimizedBytes) > 0 {
		optSum := sha256.Sum256(artifact.OptimizedBytes)
		optimizedHash = hex.EncodeToString(optSum[:])
		fmt.Printf("Optimized artifact hash: %s\n", optimizedHash)
	}

	if expected != "" {
		if wasmHash == expected || optimizedHash == expected {
			fmt.Println("✅ VERIFIED: artifact matches expected hash")
			return nil
		}
		return fmt.Errorf("hash mismatch: built %s, expected %s", wasmHash, expected)
	}

	// No expected hash given: match against the configured ledger snapshot.
	cache := ledger.NewCache(ledgerSource(cfg), slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err := cache.Load(ctx); err != nil {
		return fmt.Errorf("loading ledger snapshot: %w", err)
	}

	for _, h := range []string{wasmHash, optimizedHash} {
		if h == "" {
			continue
		}
		if entry, ok, _ := cache.Lookup(h); ok {
			fmt.Printf("✅ VERIFIED: deployed on %s as %s\n", entry.Network, entry.ContractID)
			return nil
		}
	}
	return fmt.Errorf("no ledger entry matches the built artifact")
}

func ledgerSource(cfg *config.Config) ledger.Source {
	if cfg.Ledger.Source == "http" {
		return &ledger.HTTPSource{URL: cfg.Ledger.URL}
	}
	return &ledger.FileSource{Path: cfg.Ledger.Path}
}

// Server command

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg)
	logger.Info("starting wasmproof-server", "version", version)

	metrics.Init(cfg.Metrics.Enabled)

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Load the ledger snapshot before accepting traffic. A failed initial
	// load is not fatal; requests fail with 503 until a refresh succeeds.
	ledgerCache := ledger.NewCache(ledgerSource(cfg), logger)
	if err := ledgerCache.Load(context.Background()); err != nil {
		logger.Error("initial ledger load failed", "error", err)
	}

	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	if cfg.Ledger.RefreshMinutes > 0 {
		go ledgerCache.Refresh(refreshCtx, time.Duration(cfg.Ledger.RefreshMinutes)*time.Minute)
	}

	srv := server.New(cfg, store, ledgerCache, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", srv.MetricsHandler())
		metricsServer = &http.Server{
			Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port),
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(ctx)
	}

	logger.Info("server stopped")
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
