package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/wasmproof/pkg/client"
)

func createListCmd() *cobra.Command {
	var (
		limit      int
		status     string
		network    string
		cursor     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List verification records",
		Long: `List verification records stored on the server.

EXAMPLES:
  # List recent records
  wasmproof list

  # Only verified contracts on mainnet
  wasmproof list --status verified --network mainnet

  # Page through results
  wasmproof list --limit 100 --cursor <next-cursor>

  # Output as JSON
  wasmproof list --json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), status, network, cursor, limit, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of records to show")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (verified, unverified)")
	cmd.Flags().StringVar(&network, "network", "", "filter by network")
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor from a previous listing")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runList(ctx context.Context, status, network, cursor string, limit int, jsonOutput bool) error {
	c := client.New(getServer(), getAPIKey())

	resp, err := c.ListRecords(ctx, client.ListOptions{
		Status:  status,
		Network: network,
		Limit:   limit,
		Cursor:  cursor,
	})
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if len(resp.Data) == 0 {
		fmt.Println("No verification records found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WASM HASH\tSTATUS\tNETWORK\tREPOSITORY\tCREATED")
	for _, rec := range resp.Data {
		hash := rec.WasmHash
		if len(hash) > 16 {
			hash = hash[:16] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", hash, rec.Status, rec.Network, rec.Repository, rec.CreatedAt)
	}
	w.Flush()

	if resp.Pagination.HasMore {
		fmt.Printf("\n(more available, continue with --cursor %s)\n", resp.Pagination.NextCursor)
	}

	return nil
}
