// Package engine contains the batch stages that move messages through
// their lifecycle: follow-up generation, approval promotion, and
// sending. Each stage claims a bounded batch with a conditional update
// (the affected-row count is the only cross-run concurrency control)
// and dispatches the claimed items concurrently with all-settle
// semantics. An orchestrator runs the three stages in order under a
// distributed lock.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/touchbase/followup/internal/gmail"
	"github.com/touchbase/followup/internal/store"
)

// DefaultBatchLimit bounds how many rows one stage invocation claims.
const DefaultBatchLimit = 50

// Store is the slice of the message store the engine stages use.
type Store interface {
	ClaimFollowUpCandidates(ctx context.Context, workerID string, limit int) ([]*store.Message, error)
	ClaimDueApprovals(ctx context.Context, workerID string, limit int) ([]*store.Message, error)
	ClaimDueSends(ctx context.Context, workerID string, limit int) ([]*store.Message, error)

	GetSequence(ctx context.Context, id uuid.UUID) (*store.Sequence, error)
	GetContact(ctx context.Context, id uuid.UUID) (*store.Contact, error)
	CreateMessage(ctx context.Context, m *store.Message) error

	MarkFollowUpGenerated(ctx context.Context, id uuid.UUID) error
	MarkScheduled(ctx context.Context, id uuid.UUID) error
	MarkSent(ctx context.Context, m *store.Message, res store.SendResult) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	ReleaseClaim(ctx context.Context, id uuid.UUID, attemptFailed bool, lastError string) error
	ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CredentialChecker reports the health of an owner's send credentials.
// nil status means nothing is on file.
type CredentialChecker interface {
	Status(ctx context.Context, userID uuid.UUID) (*gmail.Status, error)
}

// ItemOutcome is one claimed message's result within a stage run.
type ItemOutcome struct {
	MessageID uuid.UUID `json:"messageId"`
	Success   bool      `json:"success"`
	Skipped   bool      `json:"skipped,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// StageSummary aggregates a stage run. Business-rule skips count toward
// succeeded, never failed, and are reported separately.
type StageSummary struct {
	Stage     string        `json:"stage"`
	Success   bool          `json:"success"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped,omitempty"`
	Failed    int           `json:"failed"`
	Timestamp time.Time     `json:"timestamp"`
	Outcomes  []ItemOutcome `json:"outcomes,omitempty"`
}

func summarize(stage string, outcomes []ItemOutcome) *StageSummary {
	s := &StageSummary{
		Stage:     stage,
		Success:   true,
		Processed: len(outcomes),
		Timestamp: time.Now(),
		Outcomes:  outcomes,
	}
	for _, o := range outcomes {
		if o.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		if o.Skipped {
			s.Skipped++
		}
	}
	return s
}

// dispatch fans the claimed batch out, one goroutine per item, and
// waits for every outcome. No item's failure cancels its siblings.
func dispatch(ctx context.Context, batch []*store.Message, work func(ctx context.Context, m *store.Message) ItemOutcome) []ItemOutcome {
	outcomes := make([]ItemOutcome, len(batch))
	var wg sync.WaitGroup
	for i, m := range batch {
		wg.Add(1)
		go func(i int, m *store.Message) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = ItemOutcome{
						MessageID: m.ID,
						Error:     fmt.Sprintf("panic: %v", r),
					}
				}
			}()
			outcomes[i] = work(ctx, m)
		}(i, m)
	}
	wg.Wait()
	return outcomes
}
