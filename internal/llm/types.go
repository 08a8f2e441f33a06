// Package llm is the Orchestrator's model-facing capability: a single
// synchronous Complete call per round that turns a conversation into either
// a code block to execute or a textual final answer. It wraps langchaingo's
// ollama client behind that one call; this service only ever talks to one
// model server, so there is no provider-switch layer above it.
package llm

// Role identifies who authored a Message in the conversation sent to the
// model.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation the Orchestrator assembles and
// replays on every round.
type Message struct {
	Role    Role
	Content string
}

// CodeBlock is the fenced code block extracted from a model reply, handed
// to the sandbox for execution.
type CodeBlock struct {
	Language string
	Source   string
}

// Response is the orchestrator-facing shape of one model turn. Exactly one
// of Code or a non-empty Text-as-final-answer applies: Code non-nil means
// "execute this"; Code nil means Text is the job's final textual result.
type Response struct {
	Text string
	Code *CodeBlock
}
