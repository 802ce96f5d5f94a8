package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind tells whether Content holds text or an image data URI.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Message is one write-once entry of a conversation transcript.
// ID stays zero until the message is persisted.
type Message struct {
	ID             int64     `json:"id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Kind           Kind      `json:"kind"`
	CreatedAt      time.Time `json:"created_at"`
}
