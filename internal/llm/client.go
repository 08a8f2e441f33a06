package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/lazuer/tabulate-analysis-core/internal/config"
)

// Client drives one model turn at a time. The Orchestrator owns the
// conversation history and round count; Client only knows how to reach the
// model server and how to tell a code block apart from a textual answer.
type Client struct {
	llm  llms.Model
	name string
}

// New builds a Client against the configured ollama server.
func New(cfg config.Config) (*Client, error) {
	model, err := ollama.New(
		ollama.WithModel(cfg.ModelName),
		ollama.WithServerURL(cfg.ModelEndpoint),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create ollama client: %v", ErrUnavailable, err)
	}
	return &Client{llm: model, name: cfg.ModelName}, nil
}

// Name returns the configured model name, for logging and progress detail.
func (c *Client) Name() string {
	return c.name
}

// Complete issues one chat-completion request against the full replayed
// conversation and classifies the reply as either a code block to execute
// or a textual final answer.
func (c *Client) Complete(ctx context.Context, messages []Message) (Response, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(roleType(m.Role), m.Content))
	}

	reply, err := c.llm.GenerateContent(ctx, content)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Response{}, fmt.Errorf("%w: %v", ErrCanceled, err)
		}
		if isTransportFault(err) {
			return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Response{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if len(reply.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: no choices in reply", ErrProtocol)
	}

	text := reply.Choices[0].Content
	if block := extractCodeBlock(text); block != nil {
		return Response{Text: text, Code: block}, nil
	}
	return Response{Text: text}, nil
}

func roleType(r Role) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// isTransportFault distinguishes a connectivity failure (ModelUnavailable,
// eligible for requeue) from a reply the server actually sent back that the
// client couldn't parse (ModelProtocolError, terminal). A per-request
// deadline expiring and net.Error values are transport faults; everything
// else is a protocol fault, including whatever wrapping langchaingo does
// around HTTP status errors once a connection has been established.
// context.Canceled is handled by the caller before this function runs,
// since a canceled request is not itself evidence of a transport problem.
func isTransportFault(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{"connection refused", "no such host", "connection reset", "dial tcp", "eof"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
