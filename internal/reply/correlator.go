package reply

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/touchbase/followup/internal/pkg/logger"
	"github.com/touchbase/followup/internal/store"
)

// Outcome of correlating one inbound message.
type Outcome string

const (
	// OutcomeRecorded means an EmailReply row was created.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeDuplicate means this provider message was already recorded.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the message is not a tracked reply: unknown
	// thread, missing thread id, or a sender that does not match the
	// tracked contact.
	OutcomeIgnored Outcome = "ignored"
)

// Records is the slice of the store the correlator needs.
type Records interface {
	LatestOutboundByThread(ctx context.Context, threadID string) (*store.Message, error)
	GetContact(ctx context.Context, id uuid.UUID) (*store.Contact, error)
	CreateContact(ctx context.Context, c *store.Contact) error
	ReplyExists(ctx context.Context, replyMessageID string) (bool, error)
	CreateReply(ctx context.Context, r *store.EmailReply) error
	MarkMessageHasReply(ctx context.Context, id uuid.UUID) error
	DeactivateSequence(ctx context.Context, id uuid.UUID) error
	MarkContactReplied(ctx context.Context, id uuid.UUID) error
}

// Correlator matches inbound mail to tracked threads and records it.
type Correlator struct {
	records Records
	source  InboundSource
	log     *logger.Logger
}

func NewCorrelator(records Records, source InboundSource, log *logger.Logger) *Correlator {
	if log == nil {
		log = logger.With("reply-correlator")
	}
	return &Correlator{records: records, source: source, log: log}
}

// Process fetches one inbound message by provider ref and correlates it.
func (c *Correlator) Process(ctx context.Context, ref Ref) (Outcome, error) {
	msg, err := c.source.Get(ctx, ref.ID)
	if err != nil {
		return "", fmt.Errorf("fetch inbound message %s: %w", ref.ID, err)
	}
	return c.Correlate(ctx, msg)
}

// Correlate runs the full pipeline on an already-fetched message:
// thread lookup, spoof guard, idempotency, classification, persistence,
// and sequence wind-down on a human reply.
func (c *Correlator) Correlate(ctx context.Context, in *InboundMessage) (Outcome, error) {
	if in.ThreadID == "" {
		return OutcomeIgnored, nil
	}

	outbound, err := c.records.LatestOutboundByThread(ctx, in.ThreadID)
	if err != nil {
		return "", fmt.Errorf("look up thread %s: %w", in.ThreadID, err)
	}
	if outbound == nil {
		// Not a thread we started.
		return OutcomeIgnored, nil
	}

	contact, err := c.records.GetContact(ctx, outbound.ContactID)
	if err != nil {
		return "", fmt.Errorf("load contact: %w", err)
	}
	if contact == nil {
		// The thread is ours but the contact row vanished. Rebuild it
		// from the inbound sender under the original id so the reply
		// still has a row to reference.
		contact = &store.Contact{
			ID:          outbound.ContactID,
			OwnerID:     outbound.OwnerID,
			Email:       strings.ToLower(strings.TrimSpace(in.From)),
			Active:      true,
			AutoCreated: true,
		}
		if err := c.records.CreateContact(ctx, contact); err != nil {
			return "", fmt.Errorf("recreate contact: %w", err)
		}
		c.log.Warn("contact row missing for tracked thread, recreated",
			"thread_id", in.ThreadID, "contact_id", contact.ID.String())
	} else if !strings.EqualFold(strings.TrimSpace(in.From), contact.Email) {
		c.log.Warn("sender does not match tracked contact, ignoring",
			"thread_id", in.ThreadID, "sender_email", in.From)
		return OutcomeIgnored, nil
	}

	exists, err := c.records.ReplyExists(ctx, in.ID)
	if err != nil {
		return "", fmt.Errorf("reply idempotency check: %w", err)
	}
	if exists {
		return OutcomeDuplicate, nil
	}

	automated := IsAutomated(in.Header, in.Subject, in.Body)
	parsed := Parse(in.Body)
	content := parsed.Reply
	if content == "" {
		content = in.Body
	}

	rec := &store.EmailReply{
		ThreadID:          in.ThreadID,
		ContactID:         contact.ID,
		SequenceID:        outbound.SequenceID,
		OriginalMessageID: outbound.ID,
		ReplyMessageID:    in.ID,
		ReplyContent:      content,
		ReplyHistory:      parsed.History,
		ReplyDate:         in.InternalDate,
		IsAutomated:       automated,
		// Processed stays false until a human reads it in the UI.
	}
	if err := c.records.CreateReply(ctx, rec); err != nil {
		return "", fmt.Errorf("record reply: %w", err)
	}
	if err := c.records.MarkMessageHasReply(ctx, outbound.ID); err != nil {
		return "", fmt.Errorf("mark message replied: %w", err)
	}

	if automated {
		// Out-of-office and friends keep the sequence running.
		c.log.Info("automated reply recorded",
			"thread_id", in.ThreadID, "message_id", outbound.ID.String())
		return OutcomeRecorded, nil
	}

	if outbound.SequenceID != nil {
		if err := c.records.DeactivateSequence(ctx, *outbound.SequenceID); err != nil {
			return "", fmt.Errorf("deactivate sequence: %w", err)
		}
	}
	if err := c.records.MarkContactReplied(ctx, contact.ID); err != nil {
		return "", fmt.Errorf("mark contact replied: %w", err)
	}
	c.log.Info("human reply recorded, sequence ended",
		"thread_id", in.ThreadID, "contact_email", contact.Email)
	return OutcomeRecorded, nil
}
