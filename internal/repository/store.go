package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"echochat/internal/domain"
)

// Appender is the append-only message store consumed by the chat usecase.
type Appender interface {
	AppendMessage(ctx context.Context, msg domain.ChatMessage) (string, error)
}

// prepare validates msg and fills the server-assigned fields.
func prepare(msg domain.ChatMessage, now func() time.Time, newID func() string) (domain.ChatMessage, error) {
	if strings.TrimSpace(msg.Subject) == "" {
		return msg, errors.New("repository: subject is required")
	}
	switch msg.Role {
	case domain.RoleUser, domain.RoleAssistant:
	default:
		return msg, errors.Errorf("repository: unknown role %q", msg.Role)
	}
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now()
	}
	msg.Timestamp = msg.Timestamp.UTC()
	return msg, nil
}

func newUUID() string {
	return uuid.NewString()
}
