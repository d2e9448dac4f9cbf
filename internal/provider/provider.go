// Package provider defines the interface for message delivery backends.
package provider

import (
	"context"

	"github.com/shineum/mailcomposer/internal/email"
)

// Provider is the interface that delivery backends must implement.
// Each provider hands an already composed message to a transport
// (e.g., stdout, an SMTP relay, the local MTA, SES, Microsoft Graph).
type Provider interface {
	// Send delivers the composed message exactly once.
	// A nil error means the transport accepted the message.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}
