package agent

import "time"

const (
	// DefaultMaxRounds bounds the number of model-call rounds per user
	// message when the deployment does not configure its own limit.
	DefaultMaxRounds = 8

	// DefaultExecTimeout is the per-block sandbox execution budget.
	DefaultExecTimeout = 30 * time.Second
)

// DefaultInstructions is the system prompt sent with every model call
// unless the deployment overrides it.
const DefaultInstructions = `You are a data analysis agent. Reason about the question first, then write Python code to compute the answer.

Put code in triple-backtick fenced blocks. Each block is executed in an isolated sandbox and its output is returned to you before your next turn. The sandbox keeps no state between executions, so every block must be fully self-contained: repeat imports and recompute intermediate values.

Always print the values you need to see; bare expressions produce no output. When you have the final answer, reply in plain text with no code block.`

// Config holds the loop's fixed per-deployment settings. Generation
// parameters are deliberately not per-request: every session on a
// deployment runs with the same model and sampling settings.
type Config struct {
	// Model is the backend model identifier.
	Model string

	// Temperature and MaxTokens are passed through to the backend.
	Temperature float64
	MaxTokens   int

	// Instructions is the system prompt. Empty selects
	// DefaultInstructions.
	Instructions string

	// MaxRounds bounds model calls per user message. When set it is
	// authoritative for every run; zero defers to the session's own
	// limit (DefaultMaxRounds when that is unset too).
	MaxRounds int

	// ExecTimeout is the wall-clock budget for one code block. Zero
	// selects DefaultExecTimeout.
	ExecTimeout time.Duration

	// HistoryWindow caps the number of turns serialized into a model
	// request. Zero means the full history is sent. When trimming, the
	// most recent user turn and everything after it are always kept.
	HistoryWindow int
}

func (c Config) execTimeout() time.Duration {
	if c.ExecTimeout > 0 {
		return c.ExecTimeout
	}
	return DefaultExecTimeout
}

func (c Config) instructions() string {
	if c.Instructions != "" {
		return c.Instructions
	}
	return DefaultInstructions
}
