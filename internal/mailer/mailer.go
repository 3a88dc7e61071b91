// Package mailer defines the outbound send contract shared by every
// email transport and implements it over Amazon SES. Errors split into
// two classes: credential errors are terminal for the message being
// sent, anything else returns the message to the queue for retry.
package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SendRequest is one outbound email.
type SendRequest struct {
	UserID    uuid.UUID
	To        string
	Subject   string
	HTML      string
	ThreadID  string // provider thread to continue; empty starts a new one
	InReplyTo string // provider message id being followed up
}

// SendResult carries the provider identifiers for a delivered message.
type SendResult struct {
	MessageID string
	ThreadID  string
}

// Client sends email. Implemented by the Gmail client and SESClient.
type Client interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

var (
	// ErrNoCredentials means the owner has never connected a mailbox.
	ErrNoCredentials = errors.New("no email credentials on file")
	// ErrCredentialInvalid means the stored grant no longer works and
	// needs a reconnect.
	ErrCredentialInvalid = errors.New("email credentials invalid")
)

// CredentialError wraps a provider failure that retrying cannot fix:
// the owner has to re-authorize.
type CredentialError struct {
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential error: %s: %v", e.Reason, e.Err)
	}
	return "credential error: " + e.Reason
}

func (e *CredentialError) Unwrap() error { return e.Err }

// IsCredentialError reports whether err is terminal for the message
// being sent, as opposed to a transient provider failure.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.Is(err, ErrNoCredentials) ||
		errors.Is(err, ErrCredentialInvalid) ||
		errors.As(err, &ce)
}
