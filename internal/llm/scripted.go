package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedClient is a deterministic Client used by tests and replayed runs.
// It answers from a FIFO queue, an exact-match script on the last user
// message, or a respond function, in that order of precedence. Every call
// is recorded so tests can assert on the histories the caller constructed.
type ScriptedClient struct {
	mu sync.Mutex

	// RespondFunc, when set, computes the reply for each call.
	RespondFunc func(messages []Message, systemPrompt string) (string, error)

	// Script maps the last user message to a canned reply.
	Script map[string]string

	queue   []string
	Default string

	// FailuresBeforeSuccess injects that many transient errors before the
	// first successful reply, for retry-path tests.
	FailuresBeforeSuccess int

	calls []ScriptedCall
}

// ScriptedCall records one invocation.
type ScriptedCall struct {
	Messages     []Message
	SystemPrompt string
}

// NewQueueClient returns a client that replays responses in order.
func NewQueueClient(responses ...string) *ScriptedClient {
	return &ScriptedClient{queue: append([]string(nil), responses...)}
}

// Generate implements Client.
func (c *ScriptedClient) Generate(_ context.Context, messages []Message, systemPrompt string) (string, GenerationMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta := GenerationMeta{Provider: "scripted", Model: "scripted"}

	recorded := make([]Message, len(messages))
	copy(recorded, messages)
	c.calls = append(c.calls, ScriptedCall{Messages: recorded, SystemPrompt: systemPrompt})

	if c.FailuresBeforeSuccess > 0 {
		c.FailuresBeforeSuccess--
		return "", meta, &TransientError{StatusCode: 429, Err: fmt.Errorf("scripted transient failure")}
	}

	if c.RespondFunc != nil {
		text, err := c.RespondFunc(messages, systemPrompt)
		return text, meta, err
	}
	if len(c.queue) > 0 {
		text := c.queue[0]
		c.queue = c.queue[1:]
		return text, meta, nil
	}
	if c.Script != nil {
		if last := lastUserMessage(messages); last != "" {
			if text, ok := c.Script[last]; ok {
				return text, meta, nil
			}
		}
	}
	if c.Default != "" {
		return c.Default, meta, nil
	}
	return "", meta, &PermanentError{Err: fmt.Errorf("scripted client has no response for call %d", len(c.calls))}
}

// Calls returns a copy of the recorded invocations.
func (c *ScriptedClient) Calls() []ScriptedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ScriptedCall, len(c.calls))
	copy(out, c.calls)
	return out
}

func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
