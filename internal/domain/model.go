package domain

import "time"

// ChatMessage is one entry of the shared chat history.
// Text and MediaRef are never both empty.
type ChatMessage struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Text      string     `json:"text,omitempty"`
	MediaRef  string     `json:"media_ref,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}

// HasText reports whether the message carries text content.
func (m ChatMessage) HasText() bool {
	return m.Text != ""
}

// UserPresence is the public view of one session in a users snapshot.
type UserPresence struct {
	AvatarRef  string `json:"avatar_ref"`
	LastSeenAt string `json:"last_seen_at"`
}

// UsersSnapshot maps username to presence.
type UsersSnapshot map[string]UserPresence

// TimeFormat renders every timestamp that leaves the process.
const TimeFormat = time.RFC3339Nano
