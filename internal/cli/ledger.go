package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/wasmproof/pkg/client"
)

func createLedgerCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show the server's ledger snapshot status",
		Long: `Show the status of the ledger snapshot the server matches hashes against.

EXAMPLES:
  wasmproof ledger
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runLedger(ctx context.Context, jsonOutput bool) error {
	c := client.New(getServer(), getAPIKey())

	st, err := c.GetLedgerStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get ledger status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	if !st.Loaded {
		fmt.Println("⚠️  No ledger snapshot loaded - verification requests will fail")
		return nil
	}

	fmt.Printf("Ledger snapshot: %d entries, loaded %s\n", st.Entries, st.LoadedAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
