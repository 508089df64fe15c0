package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/wasmproof/pkg/client"
)

func createGetCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "get <wasm-hash>",
		Short: "Show the verification record for a wasm hash",
		Long: `Look up the verification record stored for a wasm hash.

EXAMPLES:
  wasmproof get e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855

  # Output as JSON
  wasmproof get <wasm-hash> --json
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runGet(ctx context.Context, wasmHash string, jsonOutput bool) error {
	c := client.New(getServer(), getAPIKey())

	rec, err := c.GetRecord(ctx, wasmHash)
	if err != nil {
		return fmt.Errorf("failed to get record: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	printRecord(rec)
	fmt.Printf("   Source:    %s @ %s\n", rec.Repository, rec.CommitHash)
	if rec.Package != "" {
		fmt.Printf("   Package:   %s\n", rec.Package)
	}

	return nil
}
