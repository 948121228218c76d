// Package conversation provides read-only windows over a session's message log.
package conversation

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/intake-go/internal/models"
)

// DefaultWindow is the fallback window size when configuration is absent.
const DefaultWindow = 12

// Chunk is a time-ordered view over a contiguous suffix of a session's
// messages. It is derived, never stored; two Window calls over the same log
// yield equal chunks.
type Chunk struct {
	messages []models.Message
}

// Window returns the most recent max messages in sequence order. The input
// is expected in sequence order already and is never reordered; the slice is
// copied so later log appends do not leak into an existing chunk.
func Window(messages []models.Message, max int) Chunk {
	if max <= 0 {
		max = DefaultWindow
	}
	start := 0
	if len(messages) > max {
		start = len(messages) - max
	}
	window := make([]models.Message, len(messages)-start)
	copy(window, messages[start:])
	return Chunk{messages: window}
}

// Size returns the number of messages in the chunk.
func (c Chunk) Size() int {
	return len(c.messages)
}

// Messages returns a copy of the chunk's messages.
func (c Chunk) Messages() []models.Message {
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Last returns the newest message in the chunk, if any.
func (c Chunk) Last() (models.Message, bool) {
	if len(c.messages) == 0 {
		return models.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Transcript renders the chunk as role-labelled lines for prompt inclusion.
func (c Chunk) Transcript() string {
	var sb strings.Builder
	for i, m := range c.messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		label := "User"
		if m.Role == models.RoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s", label, m.Content)
	}
	return sb.String()
}
