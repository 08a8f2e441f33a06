package llm

import (
	"regexp"
	"strings"
)

var fencedCodeBlock = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\\n(.*?)```")

// extractCodeBlock returns the first fenced code block in text, or nil if
// the reply is a plain textual answer with no fence. An empty fence (model
// opened and closed a block without writing anything) is treated as no
// code, since there is nothing for the sandbox to run.
func extractCodeBlock(text string) *CodeBlock {
	match := fencedCodeBlock.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	source := strings.TrimRight(match[2], "\n")
	if strings.TrimSpace(source) == "" {
		return nil
	}
	return &CodeBlock{Language: strings.TrimSpace(match[1]), Source: source}
}
