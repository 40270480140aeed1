package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chihyuyeh/coda/pkg/api"
	"github.com/chihyuyeh/coda/pkg/debug"
	"github.com/chihyuyeh/coda/pkg/observability"
)

// ClientConfig configures the sandbox HTTP client.
type ClientConfig struct {
	// Acquirer obtains a sandbox endpoint per execution. Required.
	Acquirer Acquirer

	// Packages are installed in the sandbox before each execution.
	// The sandbox server validates them against its own allow-list;
	// anything outside it fails the execution.
	Packages []string

	// HTTPTimeout bounds the whole round trip including the remote
	// execution. Defaults to the execution timeout plus 30 seconds,
	// computed per call.
	HTTPTimeout time.Duration
}

// Client executes code blocks against the sandbox server's REST API.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

var _ Executor = (*Client)(nil)

// NewClient creates a sandbox client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Acquirer == nil {
		return nil, fmt.Errorf("sandbox: Acquirer is required")
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
	}, nil
}

// Execute runs one code block in the sandbox and returns its result.
//
// All failure modes become result data: an unreachable sandbox or a
// protocol error yields a failure result with the reason in stderr, a
// deadline overrun yields a timeout result. The agent loop never sees a
// Go error from here.
func (c *Client) Execute(ctx context.Context, block api.CodeBlock, timeout time.Duration) api.ExecutionResult {
	if block.Source == "" {
		return failureResult("empty code block")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	start := time.Now()
	result := c.execute(ctx, block, timeout)
	observability.SandboxExecutionsTotal.WithLabelValues(string(result.ExitStatus)).Inc()
	observability.SandboxExecutionDuration.Observe(time.Since(start).Seconds())
	return result
}

func (c *Client) execute(ctx context.Context, block api.CodeBlock, timeout time.Duration) api.ExecutionResult {
	sandboxURL, release, err := c.cfg.Acquirer.Acquire(ctx)
	if err != nil {
		slog.Warn("sandbox acquisition failed", "error", err.Error())
		return failureResult("failed to acquire sandbox: " + err.Error())
	}
	defer release()

	reqBody := ExecuteRequest{
		Source:         block.Source,
		Language:       block.Language,
		TimeoutSeconds: int(timeout / time.Second),
		Packages:       c.cfg.Packages,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return failureResult("marshal sandbox request: " + err.Error())
	}

	// Give the HTTP layer headroom beyond the remote execution budget.
	httpTimeout := c.cfg.HTTPTimeout
	if httpTimeout == 0 {
		httpTimeout = timeout + 30*time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sandboxURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return failureResult("create sandbox request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	debug.Log("sandbox", "execute", "url", sandboxURL,
		"language", block.Language, "source_bytes", len(block.Source), "timeout", timeout)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded || reqCtx.Err() == context.DeadlineExceeded {
			return api.ExecutionResult{
				Stderr:     fmt.Sprintf("execution timed out after %s", timeout),
				ExitStatus: api.ExitTimeout,
			}
		}
		slog.Warn("sandbox request failed", "error", err.Error())
		return failureResult("sandbox request failed: " + err.Error())
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return failureResult("read sandbox response: " + err.Error())
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return failureResult("sandbox at capacity")
	}
	if httpResp.StatusCode != http.StatusOK {
		return failureResult(fmt.Sprintf("sandbox returned HTTP %d: %s", httpResp.StatusCode, respBody))
	}

	var resp ExecuteResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return failureResult("decode sandbox response: " + err.Error())
	}

	return toExecutionResult(&resp)
}

// toExecutionResult converts the wire response into the result the loop
// appends to history. Output is carried verbatim.
func toExecutionResult(resp *ExecuteResponse) api.ExecutionResult {
	result := api.ExecutionResult{
		Stdout:     resp.Stdout,
		Stderr:     resp.Stderr,
		DurationMS: resp.ExecutionTimeMs,
	}

	switch {
	case resp.Status == "timeout":
		result.ExitStatus = api.ExitTimeout
	case resp.Status == "success" && resp.ExitCode == 0:
		result.ExitStatus = api.ExitSuccess
	default:
		result.ExitStatus = api.ExitFailure
	}

	for _, f := range resp.Artifacts {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			slog.Warn("dropping undecodable artifact", "name", f.Name, "error", err.Error())
			continue
		}
		result.Artifacts = append(result.Artifacts, api.Artifact{Name: f.Name, Data: data})
	}

	return result
}

func failureResult(reason string) api.ExecutionResult {
	return api.ExecutionResult{
		Stderr:     reason,
		ExitStatus: api.ExitFailure,
	}
}
