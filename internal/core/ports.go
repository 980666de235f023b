package core

import (
	"context"

	"github.com/beacon-im/beacon/internal/domain"
)

// Ports to the external collaborators. The core consumes these; their
// implementations (database, auth service) live outside it.

// TokenVerifier turns a bearer credential into a verified identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (domain.UserID, error)
}

// ChannelDirectory answers membership questions about persisted channels.
type ChannelDirectory interface {
	IsMember(ctx context.Context, channel domain.ChannelID, user domain.UserID) (bool, error)
}

// MessageStore persists message envelopes and their mutations.
type MessageStore interface {
	Save(ctx context.Context, m *domain.Message) error
	Get(ctx context.Context, id domain.MessageID) (*domain.Message, error)
	Update(ctx context.Context, m *domain.Message) error
}

// CallStore persists call lifecycle records.
type CallStore interface {
	Save(ctx context.Context, c *domain.Call) error
	Update(ctx context.Context, c *domain.Call) error
}
