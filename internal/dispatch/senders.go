package dispatch

import "context"

// PushSender delivers a push notification through an external provider.
// The boolean is the provider's accept/reject verdict; no delivery receipts
// are modeled beyond it.
type PushSender interface {
	Send(ctx context.Context, userID, title, message string) (bool, error)
}

// EmailSender delivers an email through an external provider.
type EmailSender interface {
	Send(ctx context.Context, address, subject, body string) (bool, error)
}

// AddressResolver resolves a user id to their email address. Profile data
// lives outside this core.
type AddressResolver interface {
	EmailAddress(ctx context.Context, userID string) (string, error)
}
