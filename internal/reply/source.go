// Package reply correlates inbound email with tracked outbound
// messages: it classifies automated responses, parses reply bodies out
// of quoted history, and ends sequences when a human answers.
package reply

import (
	"context"
	"net/textproto"
	"time"
)

// Ref identifies an inbound message at the provider.
type Ref struct {
	ID string
}

// InboundMessage is a fetched inbound email in provider-neutral form.
type InboundMessage struct {
	ID           string
	ThreadID     string
	Header       textproto.MIMEHeader
	From         string // bare address, lower case
	Subject      string
	Body         string
	InternalDate time.Time
}

// InboundSource lists and fetches recent inbound mail. Implemented by
// the Gmail client and by IMAPSource.
type InboundSource interface {
	ListRecent(ctx context.Context) ([]Ref, error)
	Get(ctx context.Context, id string) (*InboundMessage, error)
}
