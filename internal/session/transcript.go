// Package session holds the in-memory transcript of a single conversation.
package session

import (
	"sync"

	"github.com/ashish23d/GreatX/internal/models"
)

// Transcript is an append-only, insertion-ordered list of messages.
// Messages are stored by value so callers cannot mutate recorded entries.
type Transcript struct {
	mu       sync.RWMutex
	messages []models.Message
}

// NewTranscript seeds a transcript with previously recorded messages.
func NewTranscript(history []models.Message) *Transcript {
	t := &Transcript{messages: make([]models.Message, 0, len(history))}
	t.messages = append(t.messages, history...)
	return t
}

// Append records msg at the end of the transcript and returns the stored copy.
func (t *Transcript) Append(msg models.Message) models.Message {
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.mu.Unlock()
	return msg
}

// Messages returns a snapshot of the transcript.
func (t *Transcript) Messages() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
