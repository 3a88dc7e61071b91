package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/osteele/liquid"

	"github.com/touchbase/followup/internal/cadence"
	"github.com/touchbase/followup/internal/mailer"
	"github.com/touchbase/followup/internal/pkg/logger"
	"github.com/touchbase/followup/internal/store"
)

// DefaultWindDownTemplate closes out a sequence whose next step would
// pass its end date.
const DefaultWindDownTemplate = `<p>Hi {{ contact_name }},</p>
<p>This will be my last note on this. If the timing ever becomes right, I would still love to connect.</p>
<p>Thanks for your time, and all the best.</p>`

// Sender delivers due scheduled messages and advances their sequences.
type Sender struct {
	store    Store
	creds    CredentialChecker
	client   mailer.Client
	workerID string
	log      *logger.Logger

	windDown *liquid.Template
	now      func() time.Time
}

// NewSender builds a sender. windDownSource is the Liquid template for
// the final message of a sequence; empty uses the default.
func NewSender(s Store, creds CredentialChecker, client mailer.Client, workerID, windDownSource string) (*Sender, error) {
	if windDownSource == "" {
		windDownSource = DefaultWindDownTemplate
	}
	tpl, err := liquid.NewEngine().ParseString(windDownSource)
	if err != nil {
		return nil, fmt.Errorf("parse wind-down template: %w", err)
	}
	return &Sender{
		store:    s,
		creds:    creds,
		client:   client,
		workerID: workerID,
		log:      logger.With("sender"),
		windDown: tpl,
		now:      time.Now,
	}, nil
}

// Run claims due scheduled messages and sends each.
func (sd *Sender) Run(ctx context.Context, limit int) (*StageSummary, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	batch, err := sd.store.ClaimDueSends(ctx, sd.workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due sends: %w", err)
	}
	if len(batch) == 0 {
		return summarize("send", nil), nil
	}

	outcomes := dispatch(ctx, batch, sd.sendOne)
	summary := summarize("send", outcomes)
	sd.log.Info("send batch complete",
		"processed", summary.Processed, "succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, nil
}

// approvalGated reports whether the message still waits on a human. A
// nil deadline waits indefinitely; a passed deadline means implicit
// approval, sent regardless of the explicit flag.
func approvalGated(m *store.Message, now time.Time) bool {
	if !m.NeedsApproval {
		return false
	}
	if m.Approved != nil && *m.Approved {
		return false
	}
	return m.ApprovalDeadline == nil || m.ApprovalDeadline.After(now)
}

func (sd *Sender) sendOne(ctx context.Context, m *store.Message) ItemOutcome {
	now := sd.now()

	if approvalGated(m, now) {
		if err := sd.store.ReleaseClaim(ctx, m.ID, false, ""); err != nil {
			return ItemOutcome{MessageID: m.ID, Error: err.Error()}
		}
		return ItemOutcome{MessageID: m.ID, Success: true, Skipped: true}
	}

	contact, err := sd.store.GetContact(ctx, m.ContactID)
	if err != nil {
		return sd.transientFailure(ctx, m, fmt.Errorf("load contact: %w", err))
	}
	if contact == nil {
		return sd.terminalFailure(ctx, m, "contact no longer exists")
	}

	status, err := sd.creds.Status(ctx, m.OwnerID)
	if err != nil {
		return sd.transientFailure(ctx, m, fmt.Errorf("credential status: %w", err))
	}
	if status == nil {
		return sd.terminalFailure(ctx, m, "no email credentials on file")
	}
	if !status.IsValid {
		reason := "email credentials invalid"
		if status.LastError != "" {
			reason += ": " + status.LastError
		}
		return sd.terminalFailure(ctx, m, reason)
	}

	// Sequence consequences of this send.
	var (
		seq           *store.Sequence
		nextDue       *time.Time
		endOfSequence bool
	)
	if m.SequenceID != nil {
		seq, err = sd.store.GetSequence(ctx, *m.SequenceID)
		if err != nil {
			return sd.transientFailure(ctx, m, fmt.Errorf("load sequence: %w", err))
		}
		if seq != nil && !seq.Active {
			// A reply or manual deactivation won the race.
			if err := sd.store.MarkCancelled(ctx, m.ID); err != nil {
				return ItemOutcome{MessageID: m.ID, Error: err.Error()}
			}
			return ItemOutcome{MessageID: m.ID, Success: true, Skipped: true}
		}
	}
	if seq != nil {
		nextDue = cadence.NextStepDue(seq.SequenceType, seq.CurrentStep+1, seq.EndDate, now)
		endOfSequence = nextDue == nil && seq.EndDate != nil
	}

	html := m.Contents
	if endOfSequence {
		html = sd.windDownBody(contact)
	}

	res, err := sd.client.Send(ctx, mailer.SendRequest{
		UserID:    m.OwnerID,
		To:        contact.Email,
		Subject:   m.Subject,
		HTML:      html,
		ThreadID:  m.ThreadID,
		InReplyTo: m.InReplyTo,
	})
	if err != nil {
		if mailer.IsCredentialError(err) {
			return sd.terminalFailure(ctx, m, err.Error())
		}
		return sd.transientFailure(ctx, m, err)
	}

	err = sd.store.MarkSent(ctx, m, store.SendResult{
		ProviderMessageID: res.MessageID,
		ThreadID:          res.ThreadID,
		EndOfSequence:     endOfSequence,
		NextStepDue:       nextDue,
	})
	if err != nil {
		// The mail went out; an inconsistent record beats a double send,
		// so surface the error without reverting the claim.
		sd.log.Error("sent but failed to record",
			"message_id", m.ID.String(), "provider_id", res.MessageID, "error", err)
		return ItemOutcome{MessageID: m.ID, Error: fmt.Sprintf("sent but not recorded: %v", err)}
	}

	sd.log.Info("message sent",
		"message_id", m.ID.String(), "recipient_email", contact.Email,
		"end_of_sequence", endOfSequence)
	return ItemOutcome{MessageID: m.ID, Success: true}
}

func (sd *Sender) windDownBody(contact *store.Contact) string {
	out, err := sd.windDown.RenderString(map[string]interface{}{
		"contact_name": contact.Name,
	})
	if err != nil {
		sd.log.Error("wind-down render failed", "error", err)
		return "<p>Hi,</p><p>This will be my last note on this. Thanks for your time, and all the best.</p>"
	}
	return out
}

// transientFailure returns the message to scheduled with the attempt
// counted; it retries on a later run.
func (sd *Sender) transientFailure(ctx context.Context, m *store.Message, cause error) ItemOutcome {
	if err := sd.store.ReleaseClaim(ctx, m.ID, true, cause.Error()); err != nil {
		sd.log.Error("release claim failed", "message_id", m.ID.String(), "error", err)
	}
	return ItemOutcome{MessageID: m.ID, Error: cause.Error()}
}

// terminalFailure marks the message failed; no retry.
func (sd *Sender) terminalFailure(ctx context.Context, m *store.Message, reason string) ItemOutcome {
	if err := sd.store.MarkFailed(ctx, m.ID, reason); err != nil {
		sd.log.Error("mark failed errored", "message_id", m.ID.String(), "error", err)
	}
	return ItemOutcome{MessageID: m.ID, Error: reason}
}
