package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReplyExists reports whether an inbound reply with the given provider
// message id has already been recorded. Polling overlap makes duplicate
// delivery routine, so persistence is idempotent on this key.
func (s *Store) ReplyExists(ctx context.Context, replyMessageID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM email_replies WHERE reply_message_id = $1)`,
		replyMessageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("reply exists: %w", err)
	}
	return exists, nil
}

// CreateReply persists an inbound reply linked to the outbound message
// it answers.
func (s *Store) CreateReply(ctx context.Context, r *EmailReply) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.ReplyDate.IsZero() {
		r.ReplyDate = time.Now()
	}
	r.CreatedAt = time.Now()

	var seqID any
	if r.SequenceID != nil {
		seqID = *r.SequenceID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO email_replies
		(id, thread_id, contact_id, sequence_id, original_message_id, reply_message_id,
		 reply_content, reply_history, reply_date, is_automated, processed, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12)`,
		r.ID, r.ThreadID, r.ContactID, seqID, r.OriginalMessageID, r.ReplyMessageID,
		r.ReplyContent, r.ReplyHistory, r.ReplyDate, r.IsAutomated, r.Processed, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create reply: %w", err)
	}
	return nil
}

// RepliesForMessage lists stored replies for an outbound message, newest
// first.
func (s *Store) RepliesForMessage(ctx context.Context, messageID uuid.UUID) ([]*EmailReply, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, thread_id, contact_id, sequence_id, original_message_id, reply_message_id,
		reply_content, reply_history, reply_date, is_automated, processed, created_at
		FROM email_replies WHERE original_message_id = $1 ORDER BY reply_date DESC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	var replies []*EmailReply
	for rows.Next() {
		r, err := scanReply(rows)
		if err != nil {
			return nil, err
		}
		replies = append(replies, r)
	}
	return replies, rows.Err()
}

func scanReply(row interface{ Scan(...any) error }) (*EmailReply, error) {
	r := &EmailReply{}
	var (
		threadID sql.NullString
		seqID    sql.NullString
		history  sql.NullString
	)
	err := row.Scan(&r.ID, &threadID, &r.ContactID, &seqID, &r.OriginalMessageID,
		&r.ReplyMessageID, &r.ReplyContent, &history, &r.ReplyDate, &r.IsAutomated,
		&r.Processed, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.ThreadID = threadID.String
	r.ReplyHistory = history.String
	if seqID.Valid {
		id, err := uuid.Parse(seqID.String)
		if err != nil {
			return nil, fmt.Errorf("bad sequence_id %q: %w", seqID.String, err)
		}
		r.SequenceID = &id
	}
	return r, nil
}
