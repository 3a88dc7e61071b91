// Package store provides the Postgres-backed record set shared by every
// engine component: contacts, sequences, messages, and replies. All
// multi-row mutations that must land together run in a single
// transaction, and batch claiming relies on conditional updates whose
// affected-row count is the only concurrency control.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/touchbase/followup/internal/cadence"
)

// ErrNotFound marks a conditional update that matched no row.
var ErrNotFound = errors.New("store: not found")

// Store provides database operations for follow-up engine entities.
type Store struct {
	db *sql.DB
}

// New creates a store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for lock fallback wiring.
func (s *Store) DB() *sql.DB { return s.db }

const messageColumns = `id, contact_id, owner_id, sequence_id, subject, contents, direction,
	status, provider_message_id, thread_id, in_reply_to, scheduled_at, sent_at,
	approval_deadline, needs_approval, approved, needs_follow_up, next_message_generated,
	has_reply, send_attempts, last_error, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	m := &Message{}
	var (
		seqID     sql.NullString
		provider  sql.NullString
		threadID  sql.NullString
		inReplyTo sql.NullString
		schedAt   sql.NullTime
		sentAt    sql.NullTime
		deadline  sql.NullTime
		approved  sql.NullBool
		lastErr   sql.NullString
	)
	err := row.Scan(
		&m.ID, &m.ContactID, &m.OwnerID, &seqID, &m.Subject, &m.Contents, &m.Direction,
		&m.Status, &provider, &threadID, &inReplyTo, &schedAt, &sentAt,
		&deadline, &m.NeedsApproval, &approved, &m.NeedsFollowUp, &m.NextMessageGenerated,
		&m.HasReply, &m.SendAttempts, &lastErr, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if seqID.Valid {
		id, err := uuid.Parse(seqID.String)
		if err != nil {
			return nil, fmt.Errorf("bad sequence_id %q: %w", seqID.String, err)
		}
		m.SequenceID = &id
	}
	m.ProviderMessageID = provider.String
	m.ThreadID = threadID.String
	m.InReplyTo = inReplyTo.String
	if schedAt.Valid {
		m.ScheduledAt = &schedAt.Time
	}
	if sentAt.Valid {
		m.SentAt = &sentAt.Time
	}
	if deadline.Valid {
		m.ApprovalDeadline = &deadline.Time
	}
	if approved.Valid {
		m.Approved = &approved.Bool
	}
	m.LastError = lastErr.String
	return m, nil
}

// CreateMessage inserts a message, assigning its ID and timestamps.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if !m.Status.Valid() {
		return fmt.Errorf("invalid message status %q", m.Status)
	}
	m.ID = uuid.New()
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now

	var seqID any
	if m.SequenceID != nil {
		seqID = *m.SequenceID
	}
	var approved any
	if m.Approved != nil {
		approved = *m.Approved
	}

	query := `INSERT INTO messages (id, contact_id, owner_id, sequence_id, subject, contents,
		direction, status, provider_message_id, thread_id, in_reply_to, scheduled_at,
		approval_deadline, needs_approval, approved, needs_follow_up, next_message_generated,
		has_reply, send_attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''),
		$12, $13, $14, $15, $16, $17, $18, $19, NULLIF($20, ''), $21, $22)`

	_, err := s.db.ExecContext(ctx, query, m.ID, m.ContactID, m.OwnerID, seqID, m.Subject,
		m.Contents, m.Direction, m.Status, m.ProviderMessageID, m.ThreadID, m.InReplyTo,
		m.ScheduledAt, m.ApprovalDeadline, m.NeedsApproval, approved, m.NeedsFollowUp,
		m.NextMessageGenerated, m.HasReply, m.SendAttempts, m.LastError, m.CreatedAt, m.UpdatedAt)
	return err
}

// GetMessage retrieves a message by ID. Returns nil when absent.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// LatestOutboundByThread returns the most recently sent outbound message
// on the given provider thread, or nil when the thread is not tracked.
func (s *Store) LatestOutboundByThread(ctx context.Context, threadID string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE thread_id = $1 AND direction = 'outbound' AND sent_at IS NOT NULL
		ORDER BY sent_at DESC LIMIT 1`
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, threadID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// MarkMessageHasReply flags an outbound message as answered.
func (s *Store) MarkMessageHasReply(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET has_reply = TRUE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// ApproveMessage records an explicit human approval, promoting the
// message straight to scheduled.
func (s *Store) ApproveMessage(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages
		SET approved = TRUE, status = 'scheduled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %s is not pending approval: %w", id, ErrNotFound)
	}
	return nil
}

// GetContact retrieves a contact by ID. Returns nil when absent.
func (s *Store) GetContact(ctx context.Context, id uuid.UUID) (*Contact, error) {
	query := `SELECT id, owner_id, email, name, active, replied, auto_created,
		last_activity, created_at, updated_at FROM contacts WHERE id = $1`
	c := &Contact{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.OwnerID, &c.Email, &c.Name, &c.Active, &c.Replied, &c.AutoCreated,
		&c.LastActivity, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// CreateContact inserts a contact. Email is normalized to lower case.
// A caller-supplied id is kept; the reply correlator relies on this when
// rebuilding a vanished contact row under its original id.
func (s *Store) CreateContact(ctx context.Context, c *Contact) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.LastActivity.IsZero() {
		c.LastActivity = now
	}

	query := `INSERT INTO contacts (id, owner_id, email, name, active, replied, auto_created,
		last_activity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.db.ExecContext(ctx, query, c.ID, c.OwnerID, c.Email, c.Name, c.Active,
		c.Replied, c.AutoCreated, c.LastActivity, c.CreatedAt, c.UpdatedAt)
	return err
}

// MarkContactReplied records a genuine human reply on the contact:
// replied, no longer enrolled, and active just now.
func (s *Store) MarkContactReplied(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE contacts
		SET replied = TRUE, active = FALSE, last_activity = NOW(), updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

// GetSequence retrieves a sequence by ID. Returns nil when absent.
func (s *Store) GetSequence(ctx context.Context, id uuid.UUID) (*Sequence, error) {
	query := `SELECT id, contact_id, owner_id, sequence_type, auto_send, auto_send_delay,
		alter_subject_line, reference_previous_email, current_step, next_step_due, end_date,
		active, created_at, updated_at FROM sequences WHERE id = $1`

	seq := &Sequence{}
	var (
		seqType  string
		refPrev  sql.NullBool
		nextDue  sql.NullTime
		endDate  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&seq.ID, &seq.ContactID, &seq.OwnerID, &seqType, &seq.AutoSend, &seq.AutoSendDelay,
		&seq.AlterSubjectLine, &refPrev, &seq.CurrentStep, &nextDue, &endDate,
		&seq.Active, &seq.CreatedAt, &seq.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	seq.SequenceType = cadence.Type(seqType)
	if refPrev.Valid {
		seq.ReferencePreviousEmail = &refPrev.Bool
	}
	if nextDue.Valid {
		seq.NextStepDue = &nextDue.Time
	}
	if endDate.Valid {
		seq.EndDate = &endDate.Time
	}
	return seq, nil
}

// CreateSequence inserts a sequence enrollment.
func (s *Store) CreateSequence(ctx context.Context, seq *Sequence) error {
	seq.ID = uuid.New()
	now := time.Now()
	seq.CreatedAt = now
	seq.UpdatedAt = now

	var refPrev any
	if seq.ReferencePreviousEmail != nil {
		refPrev = *seq.ReferencePreviousEmail
	}

	query := `INSERT INTO sequences (id, contact_id, owner_id, sequence_type, auto_send,
		auto_send_delay, alter_subject_line, reference_previous_email, current_step,
		next_step_due, end_date, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := s.db.ExecContext(ctx, query, seq.ID, seq.ContactID, seq.OwnerID,
		string(seq.SequenceType), seq.AutoSend, seq.AutoSendDelay, seq.AlterSubjectLine,
		refPrev, seq.CurrentStep, seq.NextStepDue, seq.EndDate, seq.Active,
		seq.CreatedAt, seq.UpdatedAt)
	return err
}

// DeactivateSequence ends a sequence now and cancels its in-flight
// messages in the same transaction, enforcing the invariant that no
// message of an inactive sequence may later transition into sent.
func (s *Store) DeactivateSequence(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deactivate: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `UPDATE sequences
		SET active = FALSE, end_date = NOW(), next_step_due = NULL, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE messages
		SET status = 'cancelled', updated_at = NOW()
		WHERE sequence_id = $1 AND status IN ('pending', 'scheduled')`, id)
	if err != nil {
		return fmt.Errorf("cancel pending messages: %w", err)
	}

	return tx.Commit()
}
