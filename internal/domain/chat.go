package domain

import "time"

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single persisted message in a subject's collection.
// The store assigns ID and Timestamp when they are empty.
type ChatMessage struct {
	ID        string
	Subject   string
	Role      Role
	Text      string
	Timestamp time.Time
	ReplyTo   string
	Source    string
}
