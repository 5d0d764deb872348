package quicklook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// MaxRpcRetries is the number of times C5 retries a stage RPC after a
// server timeout before giving up.
const MaxRpcRetries = 5

// GenerateTask is the task body for POST /quicklooks on a worker.
type GenerateTask struct {
	Visit     Visit      `json:"visit"`
	Generator WorkerNode `json:"generator"`
	CcdNames  []string   `json:"ccdNames"`
}

// MergeTask is the task body for POST /quicklooks/merge on a worker.
type MergeTask struct {
	Visit           Visit                 `json:"visit"`
	Generator       WorkerNode            `json:"generator"`
	CcdGeneratorMap map[string]WorkerNode `json:"ccdGeneratorMap"`
}

// TransferTask is the task body for POST /quicklooks/transfer on a worker.
type TransferTask struct {
	Visit           Visit                 `json:"visit"`
	Generator       WorkerNode            `json:"generator"`
	CcdGeneratorMap map[string]WorkerNode `json:"ccdGeneratorMap"`
}

// StreamHandler dispatches the records decoded from one streaming RPC
// response. Either callback may be nil if the caller doesn't care about
// that record kind.
type StreamHandler struct {
	OnProgress func(ProgressPayload)
	OnResult   func(CcdMeta)
}

// RpcClient opens streaming HTTP RPCs to worker nodes and retries
// transiently-timed-out calls (C5).
type RpcClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRpcClient creates a client using httpClient for transport (nil selects
// http.DefaultClient's zero-value equivalent).
func NewRpcClient(httpClient *http.Client, logger *slog.Logger) *RpcClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &RpcClient{httpClient: httpClient, logger: logger}
}

// Generate opens the generate-stage RPC to node.
func (c *RpcClient) Generate(
	ctx context.Context, node WorkerNode, task GenerateTask, timeout time.Duration, h StreamHandler,
) error {
	return c.stream(ctx, node, "/quicklooks", task, timeout, h)
}

// Merge opens the merge-stage RPC to node.
func (c *RpcClient) Merge(
	ctx context.Context, node WorkerNode, task MergeTask, timeout time.Duration, h StreamHandler,
) error {
	return c.stream(ctx, node, "/quicklooks/merge", task, timeout, h)
}

// Transfer opens the transfer-stage RPC to node.
func (c *RpcClient) Transfer(
	ctx context.Context, node WorkerNode, task TransferTask, timeout time.Duration, h StreamHandler,
) error {
	return c.stream(ctx, node, "/quicklooks/transfer", task, timeout, h)
}

// DeleteVisit requests selective per-visit cleanup on node.
func (c *RpcClient) DeleteVisit(ctx context.Context, node WorkerNode, visit Visit, tmp, merged bool) error {
	url := fmt.Sprintf("http://%s/quicklooks/%s?tmp=%t&merged=%t", node.String(), visit, tmp, merged)

	return c.delete(ctx, url)
}

// DeleteAll requests a full local-state wipe on node.
func (c *RpcClient) DeleteAll(ctx context.Context, node WorkerNode) error {
	url := fmt.Sprintf("http://%s/quicklooks/*", node.String())

	return c.delete(ctx, url)
}

func (c *RpcClient) delete(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPermanentRpcError, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: delete %s returned %d", ErrPermanentRpcError, url, resp.StatusCode)
	}

	return nil
}

// stream retries the RPC up to MaxRpcRetries times when it fails with
// ErrTransientRpcTimeout; any other error propagates immediately.
func (c *RpcClient) stream(
	ctx context.Context, node WorkerNode, path string, body any, timeout time.Duration, h StreamHandler,
) error {
	var lastErr error

	for attempt := 0; attempt <= MaxRpcRetries; attempt++ {
		err := c.doStream(ctx, node, path, body, timeout, h)
		if err == nil {
			return nil
		}

		if !errors.Is(err, ErrTransientRpcTimeout) {
			return err
		}

		lastErr = err

		if c.logger != nil {
			c.logger.WarnContext(ctx, "rpcclient.retry",
				"worker", node.String(), "path", path, "attempt", attempt+1, "error", err)
		}
	}

	return lastErr
}

func (c *RpcClient) doStream(
	ctx context.Context, node WorkerNode, path string, body any, timeout time.Duration, h StreamHandler,
) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	reqCtx := ctx

	if timeout > 0 {
		var cancel context.CancelFunc

		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	url := fmt.Sprintf("http://%s%s", node.String(), path)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeoutErr(err) {
			return fmt.Errorf("%w: %s: %w", ErrTransientRpcTimeout, path, err)
		}

		return fmt.Errorf("%w: %s: %w", ErrPermanentRpcError, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrPermanentRpcError, path, resp.StatusCode)
	}

	for {
		env, err := ReadFrame(resp.Body)
		if err != nil {
			if isTimeoutErr(err) {
				return fmt.Errorf("%w: %s: %w", ErrTransientRpcTimeout, path, err)
			}

			return fmt.Errorf("%w: %s: %w", ErrPermanentRpcError, path, err)
		}

		switch env.Kind {
		case MessageKindTerminator:
			return nil
		case MessageKindError:
			return fmt.Errorf("%w: %s", ErrWorkerStreamError, env.Error)
		case MessageKindResult:
			if h.OnResult != nil && env.Result != nil {
				h.OnResult(*env.Result)
			}
		default:
			if h.OnProgress != nil && env.Progress != nil {
				h.OnProgress(*env.Progress)
			}
		}
	}
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
