package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// FileSource reads a snapshot from a local JSON file: an array of entries.
type FileSource struct {
	Path string
}

// Fetch reads and decodes the snapshot file.
func (s *FileSource) Fetch(ctx context.Context) ([]Entry, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}
	return decodeEntries(data)
}

// HTTPSource fetches a snapshot from a URL serving the same JSON array.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Fetch downloads and decodes the snapshot.
func (s *HTTPSource) Fetch(ctx context.Context) ([]Entry, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building snapshot request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching snapshot: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot body: %w", err)
	}
	return decodeEntries(data)
}

func decodeEntries(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	for i, e := range entries {
		if e.ContractHash == "" {
			return nil, fmt.Errorf("decoding snapshot: entry %d has no contract hash", i)
		}
	}
	return entries, nil
}
