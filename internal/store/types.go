package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/touchbase/followup/internal/cadence"
)

// Status is the lifecycle state of an outbound message.
type Status string

const (
	// StatusPending awaits human approval and is not yet schedulable.
	StatusPending Status = "pending"
	// StatusScheduled is approved (or auto-approve eligible) with a due date.
	StatusScheduled Status = "scheduled"
	// StatusProcessing marks a row claimed by a dispatch run. Transient.
	StatusProcessing Status = "processing"
	// StatusSent is terminal success.
	StatusSent Status = "sent"
	// StatusFailed is terminal: no automatic retry.
	StatusFailed Status = "failed"
	// StatusCancelled is terminal: the sequence was deactivated or the
	// message superseded.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusProcessing, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions other than
// the follow-up spawn recorded on sent messages.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether a message may move from one status to
// another. Claim reversals (processing back to scheduled or pending) are
// legal; everything out of a terminal state is not, except the claim of a
// sent message for follow-up generation.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusScheduled || to == StatusCancelled || to == StatusProcessing
	case StatusScheduled:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to == StatusSent || to == StatusFailed || to == StatusScheduled || to == StatusPending
	case StatusSent:
		// Sent rows are re-claimed while their follow-up is generated and
		// then re-affirmed as sent.
		return to == StatusProcessing
	}
	return false
}

// Direction distinguishes outbound sends from recorded inbound mail.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Contact is a recipient identity. Email is unique per owner.
type Contact struct {
	ID           uuid.UUID
	OwnerID      uuid.UUID
	Email        string
	Name         string
	Active       bool
	Replied      bool
	AutoCreated  bool
	LastActivity time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Sequence is one contact's enrollment in a recurring cadence.
type Sequence struct {
	ID                     uuid.UUID
	ContactID              uuid.UUID
	OwnerID                uuid.UUID
	SequenceType           cadence.Type
	AutoSend               bool
	AutoSendDelay          int // days until timeout auto-approval; 0 disables the deadline
	AlterSubjectLine       bool
	ReferencePreviousEmail *bool
	CurrentStep            int
	NextStepDue            *time.Time
	EndDate                *time.Time
	Active                 bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Message is one outbound or inbound email unit.
type Message struct {
	ID         uuid.UUID
	ContactID  uuid.UUID
	OwnerID    uuid.UUID
	SequenceID *uuid.UUID // nil = standalone, not subject to cadence logic
	Subject    string
	Contents   string // HTML body
	Direction  Direction
	Status     Status

	// Provider identifiers; empty until sent.
	ProviderMessageID string
	ThreadID          string
	InReplyTo         string

	ScheduledAt      *time.Time
	SentAt           *time.Time
	ApprovalDeadline *time.Time
	NeedsApproval    bool
	Approved         *bool // nil on auto-send messages, false until approved otherwise

	// NeedsFollowUp + NextMessageGenerated act together as a single-writer
	// flag: exactly one of {needsFollowUp and not generated, generated}
	// describes whether this message's follow-up has been spawned.
	NeedsFollowUp        bool
	NextMessageGenerated bool

	HasReply     bool
	SendAttempts int
	LastError    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EmailReply records an inbound reply correlated to a sent message.
// ReplyMessageID (the provider's id) is the idempotency key: at most one
// row per provider message.
type EmailReply struct {
	ID                uuid.UUID
	ThreadID          string
	ContactID         uuid.UUID
	SequenceID        *uuid.UUID
	OriginalMessageID uuid.UUID // the outbound Message row this answers
	ReplyMessageID    string
	ReplyContent      string
	ReplyHistory      string
	ReplyDate         time.Time
	IsAutomated       bool
	Processed         bool
	CreatedAt         time.Time
}
