package sandbox

// ExecuteRequest is the request body for POST /execute on the sandbox
// server.
type ExecuteRequest struct {
	Source         string            `json:"source"`
	Language       string            `json:"language,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Packages       []string          `json:"packages,omitempty"`
	Files          map[string]string `json:"files,omitempty"`
}

// ExecuteResponse is the response from POST /execute on the sandbox
// server. Artifacts are base64-encoded files collected from the output
// directory, in the order the server reported them.
type ExecuteResponse struct {
	Status          string         `json:"status"` // "success", "error", "timeout"
	Stdout          string         `json:"stdout"`
	Stderr          string         `json:"stderr"`
	ExitCode        int            `json:"exit_code"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Artifacts       []ArtifactFile `json:"artifacts,omitempty"`
}

// ArtifactFile is one produced output file on the wire.
type ArtifactFile struct {
	Name string `json:"name"`
	Data string `json:"data"` // base64
}
