// Package agent implements the execution loop that turns a user request
// into one or more rounds of model inference and sandboxed code
// execution, and ultimately a final answer.
//
// One Session holds one conversation's append-only turn history and loop
// state. A Session processes one user message to completion before
// accepting the next; independent Sessions run in parallel and share no
// mutable state. The Runner drives the loop: it calls the model backend,
// extracts fenced code blocks from the response, executes each block in
// the sandbox, appends the results to history, and repeats until the
// model answers without code or the round limit is reached.
package agent
