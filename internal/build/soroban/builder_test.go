package soroban

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/wasmproof/internal/build"
)

type call struct {
	dir  string
	env  []string
	name string
	args []string
}

// fakeRunner records commands and fakes the build outputs. When the stellar
// build command runs it drops the wasm file into the out dir, and the
// optimize command drops the optimized variant unless skipOptimizedOutput
// is set.
type fakeRunner struct {
	t                   *testing.T
	calls               []call
	failOn              string // command name to fail on
	skipOptimizedOutput bool
	wasmBytes           []byte
	optimizedBytes      []byte
}

func (r *fakeRunner) Run(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, call{dir: dir, env: env, name: name, args: args})

	if name == r.failOn {
		return []byte("error: " + name + " exploded\n"), errors.New("exit status 1")
	}

	if name == "stellar" && len(args) > 1 && args[1] == "build" {
		outDir := argValue(args, "--out-dir")
		pkg := argValue(args, "--package")
		require.NotEmpty(r.t, outDir)
		path := filepath.Join(outDir, wasmFileName(pkg))
		require.NoError(r.t, os.WriteFile(path, r.wasmBytes, 0644))
	}

	if name == "stellar" && len(args) > 1 && args[1] == "optimize" && !r.skipOptimizedOutput {
		wasmPath := argValue(args, "--wasm")
		require.NotEmpty(r.t, wasmPath)
		optPath := wasmPath[:len(wasmPath)-len(".wasm")] + ".optimized.wasm"
		require.NoError(r.t, os.WriteFile(optPath, r.optimizedBytes, 0644))
	}

	return []byte(name + " ok\n"), nil
}

func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func newFakeRunner(t *testing.T) *fakeRunner {
	return &fakeRunner{
		t:              t,
		wasmBytes:      []byte("\x00asm raw"),
		optimizedBytes: []byte("\x00asm opt"),
	}
}

func testBuildParams() build.Params {
	return build.Params{Package: "hello-world", Toolchain: "1.84.1"}
}

func TestBuild_CommandSequence(t *testing.T) {
	runner := newFakeRunner(t)
	b := New(runner, nil)
	srcDir, outDir := t.TempDir(), t.TempDir()

	artifact, err := b.Build(context.Background(), srcDir, outDir, testBuildParams())
	require.NoError(t, err)

	require.Len(t, runner.calls, 4)

	assert.Equal(t, "rustup", runner.calls[0].name)
	assert.Equal(t, []string{"install", "1.84.1"}, runner.calls[0].args)

	assert.Equal(t, "rustup", runner.calls[1].name)
	assert.Equal(t, []string{"target", "add", "wasm32-unknown-unknown", "--toolchain", "1.84.1"}, runner.calls[1].args)

	assert.Equal(t, "stellar", runner.calls[2].name)
	assert.Equal(t, []string{"contract", "build", "--package", "hello-world", "--out-dir", outDir}, runner.calls[2].args)
	assert.Equal(t, srcDir, runner.calls[2].dir)

	assert.Equal(t, "stellar", runner.calls[3].name)
	assert.Equal(t, []string{"contract", "optimize", "--wasm", filepath.Join(outDir, "hello_world.wasm")}, runner.calls[3].args)

	assert.Equal(t, []byte("\x00asm raw"), artifact.Bytes)
	assert.Equal(t, []byte("\x00asm opt"), artifact.OptimizedBytes)
	assert.Contains(t, string(artifact.Log), "rustup ok")
}

func TestBuild_NewerToolchainUsesV1Target(t *testing.T) {
	runner := newFakeRunner(t)
	b := New(runner, nil)

	params := testBuildParams()
	params.Toolchain = "1.90.1"
	_, err := b.Build(context.Background(), t.TempDir(), t.TempDir(), params)
	require.NoError(t, err)

	assert.Equal(t, []string{"target", "add", "wasm32v1-none", "--toolchain", "1.90.1"}, runner.calls[1].args)
}

func TestBuild_SubdirAndProfile(t *testing.T) {
	runner := newFakeRunner(t)
	b := New(runner, nil)
	srcDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "contracts", "token"), 0755))

	params := testBuildParams()
	params.Dir = "contracts/token"
	params.Profile = "release-with-logs"
	_, err := b.Build(context.Background(), srcDir, t.TempDir(), params)
	require.NoError(t, err)

	buildCall := runner.calls[2]
	assert.Equal(t, filepath.Join(srcDir, "contracts", "token"), buildCall.dir)
	assert.Contains(t, buildCall.args, "--profile")
	assert.Contains(t, buildCall.args, "release-with-logs")
}

func TestBuild_ScrubbedEnvironment(t *testing.T) {
	t.Setenv("PATH_TEST_ALLOWED", "/usr/bin")
	t.Setenv("SECRET_TOKEN", "hunter2")

	runner := newFakeRunner(t)
	b := New(runner, []string{"PATH_TEST_ALLOWED", "NOT_SET_ANYWHERE"})

	_, err := b.Build(context.Background(), t.TempDir(), t.TempDir(), testBuildParams())
	require.NoError(t, err)

	env := runner.calls[0].env
	assert.Contains(t, env, "PATH_TEST_ALLOWED=/usr/bin")
	assert.Contains(t, env, "RUSTUP_TOOLCHAIN=1.84.1")
	assert.Contains(t, env, "SOURCE_DATE_EPOCH=0")
	for _, kv := range env {
		assert.NotContains(t, kv, "SECRET_TOKEN")
	}
	// Vars on the allowlist but absent from the host are not injected empty.
	assert.NotContains(t, env, "NOT_SET_ANYWHERE=")
}

func TestBuild_MissingRequiredParams(t *testing.T) {
	b := New(newFakeRunner(t), nil)

	_, err := b.Build(context.Background(), t.TempDir(), t.TempDir(), build.Params{Toolchain: "1.84.1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "package")

	_, err = b.Build(context.Background(), t.TempDir(), t.TempDir(), build.Params{Package: "hello-world"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "toolchain")

	_, err = b.Build(context.Background(), t.TempDir(), t.TempDir(), build.Params{Package: "hello-world", Toolchain: "stable"})
	require.Error(t, err)
}

func TestBuild_ToolchainInstallFailure(t *testing.T) {
	runner := newFakeRunner(t)
	runner.failOn = "rustup"
	b := New(runner, nil)

	_, err := b.Build(context.Background(), t.TempDir(), t.TempDir(), testBuildParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "installing toolchain")
	assert.Len(t, runner.calls, 1)
}

func TestBuild_CompileFailure(t *testing.T) {
	runner := newFakeRunner(t)
	runner.failOn = "stellar"
	b := New(runner, nil)

	_, err := b.Build(context.Background(), t.TempDir(), t.TempDir(), testBuildParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "building contract hello-world")
}

func TestBuild_MissingOptimizedOutputTolerated(t *testing.T) {
	runner := newFakeRunner(t)
	runner.skipOptimizedOutput = true
	b := New(runner, nil)

	artifact, err := b.Build(context.Background(), t.TempDir(), t.TempDir(), testBuildParams())
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00asm raw"), artifact.Bytes)
	assert.Nil(t, artifact.OptimizedBytes)
}

func TestWasmFileName(t *testing.T) {
	assert.Equal(t, "hello_world.wasm", wasmFileName("hello-world"))
	assert.Equal(t, "token.wasm", wasmFileName("token"))
}
