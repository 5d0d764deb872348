package workerapi

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/skyquick/quicklook/internal/quicklook"
	"github.com/skyquick/quicklook/internal/tilebuilder"
)

// PeerClient fetches raw and merged tile bytes from other workers during
// merge and transfer, pulling via worker-to-worker HTTP GET. A 404 is
// reported as a nil array, never an error: a missing peer tile is treated
// as an empty contribution rather than a stage failure.
type PeerClient struct {
	httpClient *http.Client
}

// NewPeerClient creates a peer client using httpClient for transport.
func NewPeerClient(httpClient *http.Client) *PeerClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &PeerClient{httpClient: httpClient}
}

// GetRawTile fetches node's raw tile bytes for tile, returning (nil, nil)
// on 404.
func (c *PeerClient) GetRawTile(ctx context.Context, node quicklook.WorkerNode, visit quicklook.Visit, tile quicklook.TileId) ([]byte, error) {
	url := fmt.Sprintf("http://%s/quicklooks/%s/tiles/%s", node.String(), visit, tile.String())

	return c.get(ctx, url)
}

// GetMergedTile fetches node's compressed merged tile bytes for tile and
// decompresses it, returning (nil, nil) on 404.
func (c *PeerClient) GetMergedTile(ctx context.Context, node quicklook.WorkerNode, visit quicklook.Visit, tile quicklook.TileId) ([]byte, error) {
	url := fmt.Sprintf("http://%s/quicklooks/%s/merged-tiles/%s", node.String(), visit, tile.String())

	compressed, err := c.get(ctx, url)
	if err != nil || compressed == nil {
		return nil, err
	}

	return tilebuilder.DecompressMerged(compressed)
}

func (c *PeerClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", quicklook.ErrPermanentRpcError, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil //nolint:nilnil // 404 is not an error here: a missing peer tile is an empty contribution.
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", quicklook.ErrPermanentRpcError, url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return data, nil
}
