package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/wasmproof/pkg/client"
)

func createVerifyCmd() *cobra.Command {
	var (
		repo        string
		sha         string
		pkg         string
		toolchain   string
		dir         string
		profile     string
		requestedBy string
		jsonOutput  bool
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Submit a verification request",
		Long: `Submit a repository and commit for reproducible-build verification.

The server fetches the source, builds the wasm contract hermetically,
hashes the artifact and matches the hash against the mainnet ledger
snapshot. The command blocks until the pipeline finishes.

EXAMPLES:
  # Verify a contract
  wasmproof verify \
    --repo stellar/soroban-examples \
    --sha 4a7df02c415dc2aa1e412c5eeb3d3ba06b0f796f \
    --package hello_world \
    --toolchain 1.84.1

  # Build in a subdirectory with a custom profile
  wasmproof verify --repo owner/repo --sha <commit> \
    --package my_contract --toolchain 1.81.0 \
    --dir contracts/token --profile release-with-logs
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), repo, sha, pkg, toolchain, dir, profile, requestedBy, jsonOutput, timeout)
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "repository as owner/name or URL (required)")
	cmd.Flags().StringVar(&sha, "sha", "", "full commit hash (required)")
	cmd.Flags().StringVar(&pkg, "package", "", "cargo package name (required)")
	cmd.Flags().StringVar(&toolchain, "toolchain", "", "pinned Rust toolchain, e.g. 1.84.1 (required)")
	cmd.Flags().StringVar(&dir, "dir", "", "subdirectory of the source tree to build in")
	cmd.Flags().StringVar(&profile, "profile", "", "cargo profile override")
	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "requester label recorded with the result")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Minute, "how long to wait for the pipeline")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("sha")
	_ = cmd.MarkFlagRequired("package")
	_ = cmd.MarkFlagRequired("toolchain")

	return cmd
}

func runVerify(ctx context.Context, repo, sha, pkg, toolchain, dir, profile, requestedBy string, jsonOutput bool, timeout time.Duration) error {
	params := map[string]string{
		"package":   pkg,
		"toolchain": toolchain,
	}
	if dir != "" {
		params["dir"] = dir
	}
	if profile != "" {
		params["profile"] = profile
	}

	if !jsonOutput {
		fmt.Printf("🔍 Verifying %s at %s\n", repo, sha)
		fmt.Printf("   Package:   %s\n", pkg)
		fmt.Printf("   Toolchain: %s\n", toolchain)
		fmt.Println("   Waiting for the build to complete...")
	}

	c := client.New(getServer(), getAPIKey(), client.WithTimeout(timeout))

	rec, err := c.Verify(ctx, client.VerifyRequest{
		Repository:  repo,
		CommitHash:  sha,
		BuildParams: params,
		RequestedBy: requestedBy,
	})
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("verification failed: %w", apiErr)
		}
		return fmt.Errorf("verification request failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Println()
	printRecord(rec)

	return nil
}

func printRecord(rec *client.Record) {
	if rec.Status == "verified" {
		fmt.Println("✅ VERIFIED")
		fmt.Printf("   Deployed on %s as %s\n", rec.Network, rec.ContractID)
	} else {
		fmt.Println("❌ UNVERIFIED")
		fmt.Println("   The build is reproducible but no deployed contract carries this hash")
	}
	fmt.Printf("   Wasm hash: %s\n", rec.WasmHash)
	fmt.Printf("   Record:    %s (created %s)\n", rec.ID, rec.CreatedAt)
}
