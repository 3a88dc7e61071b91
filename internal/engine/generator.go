package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/touchbase/followup/internal/cadence"
	"github.com/touchbase/followup/internal/draft"
	"github.com/touchbase/followup/internal/pkg/logger"
	"github.com/touchbase/followup/internal/store"
)

// Generator spawns the next sequence message for each sent message
// still flagged as needing a follow-up.
type Generator struct {
	store    Store
	drafter  draft.Drafter
	workerID string
	log      *logger.Logger

	now func() time.Time
}

func NewGenerator(s Store, drafter draft.Drafter, workerID string) *Generator {
	return &Generator{
		store:    s,
		drafter:  drafter,
		workerID: workerID,
		log:      logger.With("generator"),
		now:      time.Now,
	}
}

// Run claims up to limit candidates and generates their follow-ups.
// A claim-query failure is a stage failure; item failures are collected
// in the summary.
func (g *Generator) Run(ctx context.Context, limit int) (*StageSummary, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	batch, err := g.store.ClaimFollowUpCandidates(ctx, g.workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim follow-up candidates: %w", err)
	}
	if len(batch) == 0 {
		return summarize("generate", nil), nil
	}

	outcomes := dispatch(ctx, batch, g.generateOne)
	summary := summarize("generate", outcomes)
	g.log.Info("follow-up generation complete",
		"processed", summary.Processed, "succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, nil
}

func (g *Generator) generateOne(ctx context.Context, source *store.Message) ItemOutcome {
	fail := func(err error) ItemOutcome {
		// Flags stay untouched so the source is reconsidered next run.
		if rerr := g.store.ReleaseClaim(ctx, source.ID, false, err.Error()); rerr != nil {
			g.log.Error("release claim failed", "message_id", source.ID.String(), "error", rerr)
		}
		return ItemOutcome{MessageID: source.ID, Error: err.Error()}
	}

	if source.SequenceID == nil {
		// Standalone messages never reach the claim predicate; belt and
		// braces if one does.
		if err := g.store.MarkFollowUpGenerated(ctx, source.ID); err != nil {
			return fail(err)
		}
		return ItemOutcome{MessageID: source.ID, Success: true, Skipped: true}
	}

	seq, err := g.store.GetSequence(ctx, *source.SequenceID)
	if err != nil {
		return fail(fmt.Errorf("load sequence: %w", err))
	}
	if seq == nil || !seq.Active {
		// Sequence gone or ended: retire the flag so the source is never
		// reconsidered. A successful no-op.
		if err := g.store.MarkFollowUpGenerated(ctx, source.ID); err != nil {
			return fail(err)
		}
		return ItemOutcome{MessageID: source.ID, Success: true, Skipped: true}
	}

	contact, err := g.store.GetContact(ctx, source.ContactID)
	if err != nil {
		return fail(fmt.Errorf("load contact: %w", err))
	}
	contactName := ""
	if contact != nil {
		contactName = contact.Name
	}

	preserveThread := true
	if seq.ReferencePreviousEmail != nil {
		preserveThread = *seq.ReferencePreviousEmail
	}
	drafted, err := g.drafter.Draft(ctx, draft.Previous{
		ContactName:     contactName,
		PreviousSubject: source.Subject,
		PreviousBody:    source.Contents,
	}, draft.Options{
		KeepSubject:           !seq.AlterSubjectLine,
		PreserveThreadContext: preserveThread,
	})
	if err != nil {
		return fail(fmt.Errorf("draft follow-up: %w", err))
	}

	scheduledAt := seq.NextStepDue
	if scheduledAt == nil && seq.SequenceType != cadence.None {
		// A timed cadence with no due date cannot be scheduled; leave the
		// source flagged so it retries once the sequence is repaired.
		return fail(fmt.Errorf("sequence %s has no scheduled time", seq.ID))
	}

	now := g.now()
	var approvalDeadline *time.Time
	if seq.AutoSendDelay > 0 {
		d := now.AddDate(0, 0, seq.AutoSendDelay)
		approvalDeadline = &d
	}

	next := &store.Message{
		ContactID:  source.ContactID,
		OwnerID:    source.OwnerID,
		SequenceID: source.SequenceID,
		Subject:    drafted.Subject,
		Contents:   drafted.BodyHTML,
		Direction:  store.DirectionOutbound,

		ThreadID:  source.ThreadID,
		InReplyTo: source.ProviderMessageID,

		ScheduledAt:      scheduledAt,
		ApprovalDeadline: approvalDeadline,
		NeedsApproval:    !seq.AutoSend,
	}
	if seq.AutoSend {
		next.Status = store.StatusScheduled
	} else {
		next.Status = store.StatusPending
		approved := false
		next.Approved = &approved
	}

	if err := g.store.CreateMessage(ctx, next); err != nil {
		return fail(fmt.Errorf("insert follow-up: %w", err))
	}
	if err := g.store.MarkFollowUpGenerated(ctx, source.ID); err != nil {
		return fail(fmt.Errorf("mark source generated: %w", err))
	}

	g.log.Info("follow-up generated",
		"source_id", source.ID.String(), "next_id", next.ID.String(),
		"status", string(next.Status))
	return ItemOutcome{MessageID: source.ID, Success: true}
}
