package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// The three-phase claim: select candidates, conditionally update only the
// rows still matching the predicate into the transient processing marker,
// then re-fetch the rows actually claimed. The affected-row count of the
// conditional update is the sole cross-run concurrency control — two
// overlapping runs can both select the same candidates, but only one
// run's update matches rows still in their pre-claim state.

const (
	followUpPredicate = `status = 'sent' AND needs_follow_up AND NOT next_message_generated
		AND sequence_id IS NOT NULL`

	// Pending rows are promotable only while the owning sequence is live.
	promotePredicate = `m.status = 'pending' AND m.scheduled_at IS NOT NULL
		AND m.scheduled_at <= NOW()
		AND EXISTS (SELECT 1 FROM sequences s WHERE s.id = m.sequence_id AND s.active)`

	sendPredicate = `status = 'scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= NOW()`
)

// ClaimFollowUpCandidates claims up to limit sent sequence messages whose
// follow-up has not been generated yet.
func (s *Store) ClaimFollowUpCandidates(ctx context.Context, workerID string, limit int) ([]*Message, error) {
	selectSQL := `SELECT id FROM messages WHERE ` + followUpPredicate + ` LIMIT $1`
	claimSQL := `UPDATE messages
		SET status = 'processing', claimed_from = 'sent', claimed_at = NOW(), worker_id = $2, updated_at = NOW()
		WHERE id = ANY($1) AND ` + followUpPredicate
	return s.claim(ctx, selectSQL, claimSQL, workerID, limit)
}

// ClaimDueApprovals claims up to limit pending messages whose scheduled
// time has arrived and whose sequence is still active.
func (s *Store) ClaimDueApprovals(ctx context.Context, workerID string, limit int) ([]*Message, error) {
	selectSQL := `SELECT m.id FROM messages m WHERE ` + promotePredicate + ` LIMIT $1`
	claimSQL := `UPDATE messages m
		SET status = 'processing', claimed_from = 'pending', claimed_at = NOW(), worker_id = $2, updated_at = NOW()
		WHERE m.id = ANY($1) AND ` + promotePredicate
	return s.claim(ctx, selectSQL, claimSQL, workerID, limit)
}

// ClaimDueSends claims up to limit scheduled messages whose due time has
// arrived. Approval gating is re-checked per item by the send executor,
// not here.
func (s *Store) ClaimDueSends(ctx context.Context, workerID string, limit int) ([]*Message, error) {
	selectSQL := `SELECT id FROM messages WHERE ` + sendPredicate + ` LIMIT $1`
	claimSQL := `UPDATE messages
		SET status = 'processing', claimed_from = 'scheduled', claimed_at = NOW(), worker_id = $2, updated_at = NOW()
		WHERE id = ANY($1) AND ` + sendPredicate
	return s.claim(ctx, selectSQL, claimSQL, workerID, limit)
}

func (s *Store) claim(ctx context.Context, selectSQL, claimSQL, workerID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	// Phase 1: candidate selection. Best-effort batch, no ordering
	// guarantee.
	rows, err := s.db.QueryContext(ctx, selectSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// Phase 2: conditional claim with the predicate re-checked. Zero
	// affected rows means a concurrent run already owns the set.
	res, err := s.db.ExecContext(ctx, claimSQL, pq.Array(ids), workerID)
	if err != nil {
		return nil, fmt.Errorf("claim update: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim count: %w", err)
	}
	if claimed == 0 {
		return nil, nil
	}

	// Phase 3: re-fetch the rows we actually own, guarding against rows
	// whose other fields changed between selection and claim.
	fetchSQL := `SELECT ` + messageColumns + ` FROM messages
		WHERE id = ANY($1) AND status = 'processing' AND worker_id = $2`
	rows, err = s.db.QueryContext(ctx, fetchSQL, pq.Array(ids), workerID)
	if err != nil {
		return nil, fmt.Errorf("refetch claimed: %w", err)
	}
	defer rows.Close()

	var claimedRows []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		claimedRows = append(claimedRows, m)
	}
	return claimedRows, rows.Err()
}

func collectIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReleaseClaim returns a claimed message to its pre-claim status.
// attemptFailed additionally increments the send attempt counter and
// records the error for the pending/failed view.
func (s *Store) ReleaseClaim(ctx context.Context, id uuid.UUID, attemptFailed bool, lastError string) error {
	query := `UPDATE messages
		SET status = claimed_from, claimed_from = NULL, claimed_at = NULL, worker_id = NULL,
		    send_attempts = send_attempts + CASE WHEN $2 THEN 1 ELSE 0 END,
		    last_error = NULLIF($3, ''),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`
	_, err := s.db.ExecContext(ctx, query, id, attemptFailed, lastError)
	return err
}

// MarkFailed terminally fails a claimed message. No retry follows.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `UPDATE messages
		SET status = 'failed', claimed_from = NULL, claimed_at = NULL, worker_id = NULL,
		    send_attempts = send_attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`
	_, err := s.db.ExecContext(ctx, query, id, lastError)
	return err
}

// MarkScheduled finishes the approval promotion of a claimed pending row.
func (s *Store) MarkScheduled(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE messages
		SET status = 'scheduled', claimed_from = NULL, claimed_at = NULL, worker_id = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// MarkCancelled cancels a claimed message whose sequence went inactive
// between claim and dispatch.
func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE messages
		SET status = 'cancelled', claimed_from = NULL, claimed_at = NULL, worker_id = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// MarkFollowUpGenerated flips the single-writer generation flag on the
// source message so it is never reconsidered, re-affirming its sent
// status as it leaves the transient marker.
func (s *Store) MarkFollowUpGenerated(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE messages
		SET next_message_generated = TRUE, needs_follow_up = FALSE, status = 'sent',
		    claimed_from = NULL, claimed_at = NULL, worker_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// SendResult carries the provider identifiers and sequence consequences
// of a successful send.
type SendResult struct {
	ProviderMessageID string
	ThreadID          string
	EndOfSequence     bool
	NextStepDue       *time.Time
}

// MarkSent records a successful send in one transaction: the message
// becomes sent, the owning sequence advances (or terminates at end of
// sequence), and the contact's activity timestamp is touched.
func (s *Store) MarkSent(ctx context.Context, m *Message, res SendResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark sent: %w", err)
	}
	defer tx.Rollback()

	r, err := tx.ExecContext(ctx, `UPDATE messages
		SET status = 'sent', sent_at = NOW(), provider_message_id = $2,
		    thread_id = COALESCE(NULLIF($3, ''), thread_id),
		    needs_follow_up = $4, next_message_generated = FALSE, last_error = NULL,
		    claimed_from = NULL, claimed_at = NULL, worker_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`,
		m.ID, res.ProviderMessageID, res.ThreadID, !res.EndOfSequence)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n == 0 {
		// A stuck-claim reclaim (or another writer) took the row back;
		// the sequence must not advance for a send we cannot record.
		return fmt.Errorf("message %s is no longer processing: %w", m.ID, ErrNotFound)
	}

	if m.SequenceID != nil {
		_, err = tx.ExecContext(ctx, `UPDATE sequences
			SET current_step = current_step + 1, next_step_due = $2, active = $3, updated_at = NOW()
			WHERE id = $1`,
			*m.SequenceID, res.NextStepDue, !res.EndOfSequence)
		if err != nil {
			return fmt.Errorf("advance sequence: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE contacts
		SET last_activity = NOW(), updated_at = NOW() WHERE id = $1`, m.ContactID)
	if err != nil {
		return fmt.Errorf("touch contact: %w", err)
	}

	return tx.Commit()
}

// ReclaimStuck returns messages abandoned in the transient processing
// marker (a crash between claim and completion) to their pre-claim
// status. Returns the number of rows reclaimed.
func (s *Store) ReclaimStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `UPDATE messages
		SET status = claimed_from, claimed_from = NULL, claimed_at = NULL, worker_id = NULL,
		    updated_at = NOW()
		WHERE status = 'processing' AND claimed_from IS NOT NULL AND claimed_at < NOW() - $1::interval`
	res, err := s.db.ExecContext(ctx, query, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
