// Package sandbox provides the client side of the isolated code
// execution service. The sandbox runs code with no default access to the
// host filesystem or network; the only capability that can be granted by
// configuration is an allow-list of installable packages.
//
// Execution failures never surface as Go errors. Every call yields an
// api.ExecutionResult — failures and timeouts are data the agent loop
// feeds back to the model so it can self-correct.
package sandbox

import (
	"context"
	"time"

	"github.com/chihyuyeh/coda/pkg/api"
)

// Executor executes one code block in isolation. Implementations must be
// safe for concurrent use: executions from different sessions may run in
// parallel and must not share filesystem or interpreter state.
type Executor interface {
	Execute(ctx context.Context, block api.CodeBlock, timeout time.Duration) api.ExecutionResult
}

// Acquirer obtains a sandbox endpoint for one execution. Implementations
// exist for static URL mode (a fixed long-lived sandbox, development) and
// Kubernetes SandboxClaim mode (a fresh pod per execution).
type Acquirer interface {
	// Acquire returns a sandbox base URL to use for execution. The
	// release function must be called after execution to clean up.
	Acquire(ctx context.Context) (sandboxURL string, release func(), err error)
}

// StaticAcquirer returns a fixed sandbox URL.
type StaticAcquirer struct {
	URL string
}

// Acquire returns the configured URL with a no-op release.
func (a *StaticAcquirer) Acquire(_ context.Context) (string, func(), error) {
	return a.URL, func() {}, nil
}
