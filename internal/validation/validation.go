// Package validation provides input validation for wasmproof.
package validation

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// GitHub owner/repo segments: alphanumeric with hyphens, dots and underscores
// allowed in the repo name.
var (
	ownerRegex = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,38})$`)
	repoRegex  = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
)

// ParseRepository normalizes a repository reference to "owner/repo" form.
// Accepts "owner/repo", "github.com/owner/repo" and "https://github.com/owner/repo".
func ParseRepository(ref string) (owner, repo string, err error) {
	s := strings.TrimSpace(ref)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "github.com/")
	s = strings.TrimSuffix(s, ".git")
	s = strings.Trim(s, "/")

	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return "", "", errors.New("repository must be in owner/repo form")
	}
	owner, repo = parts[0], parts[1]
	if !ownerRegex.MatchString(owner) {
		return "", "", errors.New("invalid repository owner")
	}
	if !repoRegex.MatchString(repo) || strings.Contains(repo, "..") {
		return "", "", errors.New("invalid repository name")
	}
	return owner, repo, nil
}

// ValidateCommitHash validates a git commit hash. Full 40-char SHA-1 (or
// 64-char SHA-256) hashes are required; abbreviated hashes are not
// content-addressed enough to pin a source tree.
func ValidateCommitHash(hash string) error {
	if len(hash) != 40 && len(hash) != 64 {
		return errors.New("commit hash must be a full 40 or 64 character hex digest")
	}
	if !isHex(hash) {
		return errors.New("commit hash contains non-hex characters")
	}
	return nil
}

// ValidateWasmHash validates a SHA-256 wasm hash in lowercase hex.
func ValidateWasmHash(hash string) error {
	if len(hash) != 64 {
		return errors.New("wasm hash must be a 64 character hex digest")
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return errors.New("wasm hash must be lowercase hex")
		}
	}
	return nil
}

// Build parameter keys the pipeline understands.
var knownBuildParams = map[string]bool{
	"package":   true,
	"toolchain": true,
	"dir":       true,
	"profile":   true,
}

// ValidateBuildParams checks the build parameter mapping.
func ValidateBuildParams(params map[string]string) error {
	for k, v := range params {
		if !knownBuildParams[k] {
			return errors.New("unknown build parameter: " + k)
		}
		if strings.ContainsAny(v, "\x00\n") {
			return errors.New("invalid value for build parameter " + k)
		}
	}
	if dir, ok := params["dir"]; ok {
		if strings.HasPrefix(dir, "/") || strings.Contains(dir, "..") {
			return errors.New("build parameter dir must be a relative path inside the source tree")
		}
	}
	if tc, ok := params["toolchain"]; ok {
		if err := ValidateToolchain(tc); err != nil {
			return err
		}
	}
	return nil
}

// ValidateToolchain validates a Rust toolchain version (x.y.z).
func ValidateToolchain(v string) error {
	if !semver.IsValid("v" + v) {
		return errors.New("invalid toolchain version: must be in x.y.z form")
	}
	if strings.Count(v, ".") < 2 {
		return errors.New("invalid toolchain version: must include major.minor.patch")
	}
	return nil
}

// WasmTarget returns the rustc wasm target for a toolchain version.
// Toolchains newer than 1.84 build soroban contracts against wasm32v1-none.
func WasmTarget(toolchain string) string {
	if semver.Compare(semver.MajorMinor("v"+toolchain), "v1.84") > 0 {
		return "wasm32v1-none"
	}
	return "wasm32-unknown-unknown"
}

func isHex(s string) bool {
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return false
		}
	}
	return len(s) > 0
}
