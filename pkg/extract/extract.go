// Package extract parses model output into executable code blocks.
//
// The extractor recognizes one fence convention: a line starting with
// three backticks and an optional language tag, the block content, and a
// closing line of three backticks. Nesting is not supported; an inner
// fence closes the outer block. This matches how models are prompted to
// emit code and is a documented limitation, not a defect.
package extract

import (
	"regexp"
	"strings"

	"github.com/chihyuyeh/coda/pkg/api"
)

// fencePattern matches one fenced block non-greedily: an opening fence
// with an optional language tag on its own line, the body, and a closing
// fence at the start of a line.
var fencePattern = regexp.MustCompile("(?ms)^```([a-zA-Z0-9_+-]*)[ \t]*\r?\n(.*?)^```")

// Blocks extracts all well-formed fenced code blocks from text, in
// source order. It returns an empty slice (not an error) when no block
// is found. Extraction is a pure function of the input: the same text
// always yields the same blocks in the same order. The extracted source
// is not validated; syntax errors surface at execution time.
func Blocks(text string) []api.CodeBlock {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	blocks := make([]api.CodeBlock, 0, len(matches))
	for _, m := range matches {
		source := m[2]
		if strings.TrimSpace(source) == "" {
			continue
		}
		blocks = append(blocks, api.CodeBlock{
			Language: strings.ToLower(m[1]),
			Source:   source,
		})
	}
	if len(blocks) == 0 {
		return nil
	}
	return blocks
}
