package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"h2ledger/internal/mirror"
)

// HTTPSnapshot pulls the authoritative current state from the chain
// gateway's query endpoint. The endpoint returns the batch and listing
// collections as JSON.
func HTTPSnapshot(url string, client *http.Client) SnapshotFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (*Snapshot, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build snapshot request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch chain snapshot: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("chain snapshot returned %d", resp.StatusCode)
		}

		var body struct {
			Batches  []*mirror.Batch   `json:"batches"`
			Listings []*mirror.Listing `json:"listings"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode chain snapshot: %w", err)
		}
		return &Snapshot{Batches: body.Batches, Listings: body.Listings}, nil
	}
}
