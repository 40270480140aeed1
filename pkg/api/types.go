package api

import (
	"strings"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks a turn containing a user message.
	RoleUser Role = "user"

	// RoleAssistant marks a turn containing model output.
	RoleAssistant Role = "assistant"

	// RoleTool marks a synthetic turn carrying a code execution result.
	RoleTool Role = "tool"
)

// Turn is one atomic unit of conversation history: a user message, an
// assistant message, or an execution result. Turns are immutable once
// appended to a history.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// CodeBlocks holds the fenced blocks extracted from an assistant
	// turn's content, in source order. Empty for user and tool turns.
	CodeBlocks []CodeBlock `json:"code_blocks,omitempty"`

	// Result holds the execution result carried by a tool turn.
	// Nil for user and assistant turns.
	Result *ExecutionResult `json:"result,omitempty"`
}

// CodeBlock is a fenced code block extracted from assistant output.
type CodeBlock struct {
	// Language is the fence's language tag. May be empty when the fence
	// carried no tag.
	Language string `json:"language,omitempty"`

	// Source is the code between the fences, without the delimiters.
	Source string `json:"source"`
}

// ExitStatus classifies the outcome of a sandboxed execution.
type ExitStatus string

const (
	// ExitSuccess means the code ran to completion with exit code zero.
	ExitSuccess ExitStatus = "success"

	// ExitFailure means the code raised or exited non-zero. The
	// interpreter's error text is in Stderr.
	ExitFailure ExitStatus = "failure"

	// ExitTimeout means the execution exceeded its time budget. Partial
	// output captured before the cutoff is preserved.
	ExitTimeout ExitStatus = "timeout"
)

// Artifact is a file produced by sandboxed code in the designated output
// directory.
type Artifact struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// ExecutionResult is the structured outcome of executing one code block
// in the sandbox. Execution failures and timeouts are represented here as
// data, never as Go errors: the loop feeds them back to the model so it
// can self-correct.
type ExecutionResult struct {
	Stdout     string     `json:"stdout"`
	Stderr     string     `json:"stderr"`
	ExitStatus ExitStatus `json:"exit_status"`
	DurationMS int64      `json:"duration_ms,omitempty"`

	// Artifacts are output files in the order the sandbox reported them.
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// FeedbackText renders the result as the content of a tool turn, the form
// in which the model sees it on the next round. Output and stderr bytes
// are included verbatim, not escaped or quoted, so the model reacts to
// the exact interpreter error. Artifacts appear by name only; their
// payloads never enter the model context.
func (r *ExecutionResult) FeedbackText() string {
	var b strings.Builder
	b.WriteString("exit status: ")
	b.WriteString(string(r.ExitStatus))
	if r.Stdout != "" {
		b.WriteString("\nstdout:\n")
		b.WriteString(r.Stdout)
	}
	if r.Stderr != "" {
		b.WriteString("\nstderr:\n")
		b.WriteString(r.Stderr)
	}
	if names := r.artifactNames(); len(names) > 0 {
		b.WriteString("\nartifacts: ")
		b.WriteString(strings.Join(names, ", "))
	}
	return b.String()
}

func (r *ExecutionResult) artifactNames() []string {
	if len(r.Artifacts) == 0 {
		return nil
	}
	names := make([]string, len(r.Artifacts))
	for i, a := range r.Artifacts {
		names[i] = a.Name
	}
	return names
}

// SessionView is the wire representation of a session returned by the
// HTTP API and persisted by session stores.
type SessionView struct {
	ID         string `json:"id"`
	Subject    string `json:"subject,omitempty"`
	Turns      []Turn `json:"turns"`
	RoundCount int    `json:"round_count"`
	MaxRounds  int    `json:"max_rounds"`
	Terminated bool   `json:"terminated"`
	CreatedAt  int64  `json:"created_at"`
}

// Usage reports token consumption for one model backend call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates another call's usage into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}
