package models

import "time"

// Conversation groups an ordered sequence of messages.
// OwnerID is zero for guest conversations, which are never persisted.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   int64     `json:"owner_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// IsGuest reports whether the conversation lives only in memory.
func (c *Conversation) IsGuest() bool {
	return c.OwnerID <= 0
}
