// Package soroban builds Stellar Soroban contracts with a pinned Rust
// toolchain through the stellar CLI.
package soroban

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pendergraft/wasmproof/internal/build"
	"github.com/pendergraft/wasmproof/internal/validation"
)

// Builder shells out to rustup and the stellar CLI. The environment passed
// to every command is restricted to the configured allowlist so ambient
// state cannot leak into the artifact.
type Builder struct {
	runner       build.Runner
	envAllowlist []string
}

// New creates a soroban builder.
func New(runner build.Runner, envAllowlist []string) *Builder {
	return &Builder{runner: runner, envAllowlist: envAllowlist}
}

// Name returns the builder identifier.
func (b *Builder) Name() string { return "soroban" }

// Build compiles the contract package and returns the wasm artifact.
// Steps mirror the reproducible-build recipe: install the pinned toolchain,
// add the version-appropriate wasm target, run `stellar contract build`,
// then optimize. Both wasm variants are returned; deployments may carry
// either hash.
func (b *Builder) Build(ctx context.Context, srcDir, outDir string, params build.Params) (*build.Artifact, error) {
	if params.Package == "" {
		return nil, errors.New("build parameter \"package\" is required")
	}
	if params.Toolchain == "" {
		return nil, errors.New("build parameter \"toolchain\" is required")
	}
	if err := validation.ValidateToolchain(params.Toolchain); err != nil {
		return nil, err
	}

	env := b.buildEnv(params.Toolchain)
	var log []byte

	out, err := b.runner.Run(ctx, srcDir, env, "rustup", "install", params.Toolchain)
	log = append(log, out...)
	if err != nil {
		return nil, fmt.Errorf("installing toolchain %s: %w", params.Toolchain, err)
	}

	target := validation.WasmTarget(params.Toolchain)
	out, err = b.runner.Run(ctx, srcDir, env, "rustup", "target", "add", target, "--toolchain", params.Toolchain)
	log = append(log, out...)
	if err != nil {
		return nil, fmt.Errorf("adding target %s: %w", target, err)
	}

	buildDir := srcDir
	if params.Dir != "" {
		buildDir = filepath.Join(srcDir, params.Dir)
	}

	args := []string{"contract", "build", "--package", params.Package, "--out-dir", outDir}
	if params.Profile != "" {
		args = append(args, "--profile", params.Profile)
	}
	out, err = b.runner.Run(ctx, buildDir, env, "stellar", args...)
	log = append(log, out...)
	if err != nil {
		return nil, fmt.Errorf("building contract %s: %w", params.Package, err)
	}

	wasmPath := filepath.Join(outDir, wasmFileName(params.Package))
	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("reading wasm output: %w", err)
	}

	optimizedBytes, optLog, err := b.optimize(ctx, env, outDir, wasmPath, params.Package)
	log = append(log, optLog...)
	if err != nil {
		return nil, err
	}

	return &build.Artifact{
		Bytes:          wasmBytes,
		OptimizedBytes: optimizedBytes,
		Log:            log,
	}, nil
}

// optimize runs the wasm optimizer. A missing optimized output is not an
// error; older stellar CLIs optimize in place.
func (b *Builder) optimize(ctx context.Context, env []string, outDir, wasmPath, pkg string) (optimized []byte, log []byte, err error) {
	out, err := b.runner.Run(ctx, outDir, env, "stellar", "contract", "optimize", "--wasm", wasmPath)
	log = append(log, out...)
	if err != nil {
		return nil, log, fmt.Errorf("optimizing wasm: %w", err)
	}

	optimizedPath := filepath.Join(outDir, strings.TrimSuffix(wasmFileName(pkg), ".wasm")+".optimized.wasm")
	optimized, err = os.ReadFile(optimizedPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, log, nil
	}
	if err != nil {
		return nil, log, fmt.Errorf("reading optimized wasm: %w", err)
	}
	return optimized, log, nil
}

// buildEnv assembles the scrubbed environment for build commands: only
// allowlisted host variables pass through, plus the pinned toolchain.
func (b *Builder) buildEnv(toolchain string) []string {
	env := make([]string, 0, len(b.envAllowlist)+2)
	for _, key := range b.envAllowlist {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	env = append(env, "RUSTUP_TOOLCHAIN="+toolchain)
	env = append(env, "SOURCE_DATE_EPOCH=0")
	return env
}

// wasmFileName maps a cargo package name to its wasm output file.
func wasmFileName(pkg string) string {
	return strings.ReplaceAll(pkg, "-", "_") + ".wasm"
}
