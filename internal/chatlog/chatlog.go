// Package chatlog defines the audit records produced by the gateway and the
// PostgreSQL stores that persist them. The gateway never writes Postgres
// directly: records travel over NATS (see internal/messaging) and the auditor
// binary appends them here, so a slow or unreachable database can never stall
// the relay path.
package chatlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Line is one scanned chat message, violating or not.
type Line struct {
	RoomID       string   `json:"room_id"`
	SenderName   string   `json:"sender_name"`
	Text         string   `json:"text"`
	IsViolation  bool     `json:"is_violation"`
	FlaggedWords []string `json:"flagged_words,omitempty"`
	Ts           int64    `json:"ts"`
}

// Violation is the audit record for a moderation ban. Context carries the
// last few messages from the room so moderators can review what led up to it.
type Violation struct {
	UserID          string            `json:"user_id"`
	SenderName      string            `json:"sender_name"`
	Words           []string          `json:"words"`
	DurationSeconds int               `json:"duration_seconds"`
	Context         []BufferedMessage `json:"context,omitempty"`
	Ts              int64             `json:"ts"`
}

// Store appends audit rows to PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertLine appends one chat line to the chat_logs table.
func (s *Store) InsertLine(ctx context.Context, line *Line) error {
	const query = `
		INSERT INTO chat_logs (room_id, sender_name, message, is_violation, flagged_words, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	var flagged []byte
	if len(line.FlaggedWords) > 0 {
		var err error
		flagged, err = json.Marshal(line.FlaggedWords)
		if err != nil {
			return fmt.Errorf("chatlog: marshal flagged words: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, query,
		line.RoomID,
		line.SenderName,
		line.Text,
		line.IsViolation,
		flagged,
		time.Unix(line.Ts, 0).UTC(),
	)
	if err != nil {
		return fmt.Errorf("chatlog: insert line: %w", err)
	}
	return nil
}

// InsertViolation appends one violation record to the violation_logs table.
// The message context is marshalled to JSONB.
func (s *Store) InsertViolation(ctx context.Context, v *Violation) error {
	const query = `
		INSERT INTO violation_logs (user_id, sender_name, words, duration_seconds, context, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	words, err := json.Marshal(v.Words)
	if err != nil {
		return fmt.Errorf("chatlog: marshal words: %w", err)
	}
	var contextJSON []byte
	if len(v.Context) > 0 {
		contextJSON, err = json.Marshal(v.Context)
		if err != nil {
			return fmt.Errorf("chatlog: marshal context: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, query,
		v.UserID,
		v.SenderName,
		words,
		v.DurationSeconds,
		contextJSON,
		time.Unix(v.Ts, 0).UTC(),
	)
	if err != nil {
		return fmt.Errorf("chatlog: insert violation: %w", err)
	}
	return nil
}

// RecentLines returns the newest limit chat lines, newest first. Served by
// the auditor's admin endpoint for moderation review.
func (s *Store) RecentLines(ctx context.Context, limit int) ([]Line, error) {
	const query = `
		SELECT room_id, sender_name, message, is_violation, COALESCE(flagged_words, 'null'), logged_at
		FROM chat_logs
		ORDER BY logged_at DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("chatlog: recent lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		var flagged []byte
		var loggedAt time.Time
		if err := rows.Scan(&line.RoomID, &line.SenderName, &line.Text, &line.IsViolation, &flagged, &loggedAt); err != nil {
			return nil, fmt.Errorf("chatlog: scan line: %w", err)
		}
		_ = json.Unmarshal(flagged, &line.FlaggedWords)
		line.Ts = loggedAt.Unix()
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
