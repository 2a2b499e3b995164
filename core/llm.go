package core

import "context"

type LLMMessageRole string

const (
	LLMMessageRoleUser      LLMMessageRole = "user"
	LLMMessageRoleAssistant LLMMessageRole = "assistant"
	LLMMessageRoleSystem    LLMMessageRole = "system"
)

// LLMMessage represents a message exchanged with the response engine.
type LLMMessage struct {
	Role    LLMMessageRole `json:"role"`    // Role of the message sender (system, user, assistant).
	Message string         `json:"message"` // Content of the message.
}

// LLMContext is an ordered conversation history handed to a response engine.
type LLMContext struct {
	Messages []LLMMessage
}

// NewLLMContext starts a history with a single system entry.
func NewLLMContext(systemPrompt string) LLMContext {
	return LLMContext{Messages: []LLMMessage{{Role: LLMMessageRoleSystem, Message: systemPrompt}}}
}

func (c *LLMContext) AddSystemMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleSystem, Message: text})
}

func (c *LLMContext) AddUserMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleUser, Message: text})
}

func (c *LLMContext) AddAssistantMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleAssistant, Message: text})
}

// Clone returns a copy whose message slice does not alias c.
func (c LLMContext) Clone() LLMContext {
	msgs := make([]LLMMessage, len(c.Messages))
	copy(msgs, c.Messages)
	return LLMContext{Messages: msgs}
}

// GetLastAssistantMessage returns the most recent assistant entry, or "".
func (c *LLMContext) GetLastAssistantMessage() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == LLMMessageRoleAssistant {
			return c.Messages[i].Message
		}
	}
	return ""
}

// LLMEngine completes a conversation history. A response that carries an
// engine-reported error or no content is returned as an error wrapping
// ErrEngineResponse.
type LLMEngine interface {
	Complete(ctx context.Context, llmContext LLMContext) (string, error)
}
