package engine

import (
	"context"
	"fmt"

	"github.com/touchbase/followup/internal/pkg/logger"
	"github.com/touchbase/followup/internal/store"
)

// Promoter moves due pending messages to scheduled. Approval gating is
// not checked here; the send executor enforces it per item, so an
// unapproved message simply waits in scheduled until its deadline
// passes or a human approves it.
type Promoter struct {
	store    Store
	workerID string
	log      *logger.Logger
}

func NewPromoter(s Store, workerID string) *Promoter {
	return &Promoter{store: s, workerID: workerID, log: logger.With("promoter")}
}

// Run claims due pending messages whose sequence is still active and
// promotes each.
func (p *Promoter) Run(ctx context.Context, limit int) (*StageSummary, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	batch, err := p.store.ClaimDueApprovals(ctx, p.workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due approvals: %w", err)
	}
	if len(batch) == 0 {
		return summarize("promote", nil), nil
	}

	outcomes := dispatch(ctx, batch, p.promoteOne)
	summary := summarize("promote", outcomes)
	p.log.Info("approval promotion complete",
		"processed", summary.Processed, "succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, nil
}

func (p *Promoter) promoteOne(ctx context.Context, m *store.Message) ItemOutcome {
	if err := p.store.MarkScheduled(ctx, m.ID); err != nil {
		if rerr := p.store.ReleaseClaim(ctx, m.ID, false, err.Error()); rerr != nil {
			p.log.Error("release claim failed", "message_id", m.ID.String(), "error", rerr)
		}
		return ItemOutcome{MessageID: m.ID, Error: err.Error()}
	}
	return ItemOutcome{MessageID: m.ID, Success: true}
}
