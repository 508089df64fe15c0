// Package build defines the hermetic build contract and the command runner
// abstraction builders shell out through.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Params selects a deterministic build configuration. All fields come from
// the verification request's build parameter mapping.
type Params struct {
	Package   string // cargo package name (required)
	Toolchain string // pinned Rust toolchain, e.g. "1.84.1" (required)
	Dir       string // subdirectory of the source tree to build in
	Profile   string // optional cargo profile override
}

// FromMap builds Params from the request's parameter mapping.
func FromMap(m map[string]string) Params {
	return Params{
		Package:   m["package"],
		Toolchain: m["toolchain"],
		Dir:       m["dir"],
		Profile:   m["profile"],
	}
}

// Artifact is the output of one build: the wasm bytes plus the build log.
// OptimizedBytes carries the post-optimizer variant when the toolchain
// produced one; deployed code on chain may be either.
type Artifact struct {
	Bytes          []byte
	OptimizedBytes []byte
	Log            []byte
}

// Builder produces a wasm artifact from a source tree. Implementations must
// be hermetic: identical tree and params always yield identical bytes.
type Builder interface {
	Name() string
	Build(ctx context.Context, srcDir, outDir string, params Params) (*Artifact, error)
}

// Runner executes external commands. Builders depend on this instead of
// os/exec so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, dir string, env []string, name string, args ...string) (output []byte, err error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

// Run executes name with args in dir using exactly the given environment.
func (ExecRunner) Run(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return out.Bytes(), nil
}
