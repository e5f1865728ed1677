// Package session holds the per-conversation state shared by the voice
// components.
package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MrWong99/voxtutor/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation.
const charsPerToken = 4

// ChatContext is the ordered message history of one tutoring conversation.
//
// The history only grows during a conversation: a turn either appends its
// user and assistant messages or leaves the context untouched. Replace swaps
// in the context returned by the pipeline, which is the previous context plus
// the turn. Nothing is ever truncated.
//
// All methods are safe for concurrent use.
type ChatContext struct {
	mu       sync.RWMutex
	messages []llm.Message
}

// NewChatContext returns a context seeded with msgs.
func NewChatContext(msgs ...llm.Message) *ChatContext {
	c := &ChatContext{}
	c.Append(msgs...)
	return c
}

// Append adds msgs to the end of the history.
func (c *ChatContext) Append(msgs ...llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
}

// Messages returns a copy of the history.
func (c *ChatContext) Messages() []llm.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]llm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Replace swaps the history for msgs.
func (c *ChatContext) Replace(msgs []llm.Message) {
	cp := make([]llm.Message, len(msgs))
	copy(cp, msgs)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = cp
}

// Len returns the number of messages.
func (c *ChatContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Reset clears the history for a new conversation.
func (c *ChatContext) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// EstimatedTokens approximates the prompt size of the history.
func (c *ChatContext) EstimatedTokens() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, m := range c.messages {
		n += (len(m.Role)+len(m.Content))/charsPerToken + 1
	}
	return n
}

// MarshalJSON encodes the history as a JSON array of {role, content}.
func (c *ChatContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Messages())
}

// UnmarshalJSON replaces the history with a decoded JSON array.
func (c *ChatContext) UnmarshalJSON(data []byte) error {
	msgs, err := DecodeMessages(data)
	if err != nil {
		return err
	}
	c.Replace(msgs)
	return nil
}

// DecodeMessages parses a JSON array of {role, content}. Empty input yields
// an empty history.
func DecodeMessages(data []byte) ([]llm.Message, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var msgs []llm.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("session: decode chat context: %w", err)
	}
	for i, m := range msgs {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return nil, fmt.Errorf("session: decode chat context: message %d: invalid role %q", i, m.Role)
		}
	}
	return msgs, nil
}
