package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/parley-ai/parley/internal/event"
	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/pkg/types"
)

// AddMessage persists a message and all of its child rows in one
// transaction. The message, its parts, attachments, usage, todo snapshots
// and the session activity bump commit together or not at all. Scalar
// content is normalized into the part-array form before writing. Ordering
// is assigned as the current message count of the session.
func (s *Store) AddMessage(ctx context.Context, msg types.Message) (*types.Message, error) {
	if msg.SessionID == "" {
		return nil, fmt.Errorf("add message: missing session id")
	}
	if msg.Role != types.RoleUser && msg.Role != types.RoleAssistant {
		return nil, fmt.Errorf("add message: invalid role %q", msg.Role)
	}
	if msg.Usage != nil && msg.Role != types.RoleAssistant {
		return nil, fmt.Errorf("add message: usage on non-assistant message")
	}
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.Status == "" {
		msg.Status = types.StatusCompleted
	}
	msg.Timestamp = nowMillis()
	msg = types.NormalizeMessage(msg)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, msg.SessionID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("session %s not found", msg.SessionID)
		}

		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, msg.SessionID).Scan(&msg.Ordering); err != nil {
			return err
		}

		metadata, err := marshalMetadata(msg.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, timestamp, ordering, finish_reason, status, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.SessionID, msg.Role, msg.Timestamp, msg.Ordering, msg.Finish, msg.Status, metadata); err != nil {
			return err
		}

		if err := insertParts(ctx, tx, msg.ID, msg.Parts); err != nil {
			return err
		}

		for i := range msg.Attachments {
			att := &msg.Attachments[i]
			if att.ID == "" {
				att.ID = newID()
			}
			att.MessageID = msg.ID
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO attachments (id, message_id, path, relative_path, size) VALUES (?, ?, ?, ?, ?)`,
				att.ID, att.MessageID, att.Path, att.RelativePath, att.Size); err != nil {
				return err
			}
		}

		if msg.Usage != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO usage (message_id, prompt_tokens, completion_tokens, total_tokens) VALUES (?, ?, ?, ?)`,
				msg.ID, msg.Usage.Prompt, msg.Usage.Completion, msg.Usage.Total); err != nil {
				return err
			}
		}

		for i := range msg.Todos {
			snap := &msg.Todos[i]
			if snap.ID == "" {
				snap.ID = newID()
			}
			snap.MessageID = msg.ID
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO todo_snapshots (id, message_id, todo_id, content, active_form, status, ordering)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				snap.ID, snap.MessageID, snap.TodoID, snap.Content, snap.ActiveForm, snap.Status, snap.Ordering); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `UPDATE sessions SET updated = ? WHERE id = ?`, nowMillis(), msg.SessionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}

	logging.Debug().Str("session", msg.SessionID).Str("message", msg.ID).Str("role", msg.Role).Msg("message added")
	s.publish(event.Event{Type: event.MessageCreated, Data: event.MessageData{Info: &msg}})
	return &msg, nil
}

// GetMessagesBySession pages through a session's messages in insertion
// order, each fully loaded. The cursor is the ordering of the last item of
// the previous page.
func (s *Store) GetMessagesBySession(ctx context.Context, sessionID string, limit int, cursor *int64) (Page[types.Message], error) {
	query := `SELECT id, session_id, role, timestamp, ordering, finish_reason, status, metadata
	          FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	if cursor != nil {
		query += ` AND ordering > ?`
		args = append(args, *cursor)
	}
	query += ` ORDER BY ordering ASC LIMIT ?`
	args = append(args, limit+1)

	messages, err := s.loadMessages(ctx, s.db, query, args...)
	if err != nil {
		return Page[types.Message]{Items: []types.Message{}}, err
	}

	page := Page[types.Message]{Items: messages}
	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		next := page.Items[limit-1].Ordering
		page.NextCursor = &next
	}
	return page, nil
}

// GetRecentUserMessages pages through user messages across all sessions,
// newest first. The cursor is the timestamp of the last item of the
// previous page.
func (s *Store) GetRecentUserMessages(ctx context.Context, limit int, cursor *int64) (Page[types.Message], error) {
	query := `SELECT id, session_id, role, timestamp, ordering, finish_reason, status, metadata
	          FROM messages WHERE role = ?`
	args := []any{types.RoleUser}
	if cursor != nil {
		query += ` AND timestamp < ?`
		args = append(args, *cursor)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit+1)

	messages, err := s.loadMessages(ctx, s.db, query, args...)
	if err != nil {
		return Page[types.Message]{Items: []types.Message{}}, err
	}

	page := Page[types.Message]{Items: messages}
	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		next := page.Items[limit-1].Timestamp
		page.NextCursor = &next
	}
	return page, nil
}

// UpdateMessageParts replaces the part list of a message. Old rows are
// deleted and the new list inserted in one transaction, so readers never
// observe a partial list.
func (s *Store) UpdateMessageParts(ctx context.Context, messageID string, parts []types.Part) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE id = ?`, messageID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("message %s not found", messageID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM parts WHERE message_id = ?`, messageID); err != nil {
			return err
		}
		return insertParts(ctx, tx, messageID, parts)
	})
	if err != nil {
		return fmt.Errorf("update message parts: %w", err)
	}
	s.publishMessageUpdated(ctx, messageID)
	return nil
}

// UpdateMessageStatus finalizes a message's lifecycle status. A non-nil
// finish also records the step finish reason.
func (s *Store) UpdateMessageStatus(ctx context.Context, messageID, status string, finish *string) error {
	err := retryOnBusy(ctx, func() error {
		var res sql.Result
		var err error
		if finish != nil {
			res, err = s.db.ExecContext(ctx, `UPDATE messages SET status = ?, finish_reason = ? WHERE id = ?`, status, *finish, messageID)
		} else {
			res, err = s.db.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id = ?`, status, messageID)
		}
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("message %s not found", messageID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	s.publishMessageUpdated(ctx, messageID)
	return nil
}

// UpdateMessageUsage records token usage for an assistant message,
// replacing any earlier accounting.
func (s *Store) UpdateMessageUsage(ctx context.Context, messageID string, usage types.TokenUsage) error {
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO usage (message_id, prompt_tokens, completion_tokens, total_tokens) VALUES (?, ?, ?, ?)
			 ON CONFLICT(message_id) DO UPDATE SET
			   prompt_tokens = excluded.prompt_tokens,
			   completion_tokens = excluded.completion_tokens,
			   total_tokens = excluded.total_tokens`,
			messageID, usage.Prompt, usage.Completion, usage.Total)
		return err
	})
	if err != nil {
		return fmt.Errorf("update message usage: %w", err)
	}
	s.publishMessageUpdated(ctx, messageID)
	return nil
}

func (s *Store) publishMessageUpdated(ctx context.Context, messageID string) {
	if s.bus == nil {
		return
	}
	messages, err := s.loadMessages(ctx, s.db,
		`SELECT id, session_id, role, timestamp, ordering, finish_reason, status, metadata
		 FROM messages WHERE id = ?`, messageID)
	if err != nil || len(messages) == 0 {
		return
	}
	s.publish(event.Event{Type: event.MessageUpdated, Data: event.MessageData{Info: &messages[0]}})
}

// insertParts writes a part list with contiguous ordering starting at 0.
// Part JSON is stored whole; the type column exists for inspection and
// filtering only.
func insertParts(ctx context.Context, tx *sql.Tx, messageID string, parts []types.Part) error {
	for i, part := range parts {
		id := part.PartID()
		if id == "" {
			id = newID()
		}
		content, err := json.Marshal(part)
		if err != nil {
			return fmt.Errorf("marshal part %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO parts (id, message_id, ordering, type, content) VALUES (?, ?, ?, ?, ?)`,
			id, messageID, i, part.PartType(), string(content)); err != nil {
			return err
		}
	}
	return nil
}

// loadMessages runs a message query and resolves each message's children
// with one batched query per child table instead of per-message lookups.
func (s *Store) loadMessages(ctx context.Context, q querier, query string, args ...any) ([]types.Message, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []types.Message{}
	ids := []string{}
	for rows.Next() {
		var msg types.Message
		var metadata sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Timestamp, &msg.Ordering,
			&msg.Finish, &msg.Status, &metadata); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", msg.ID, err)
			}
		}
		messages = append(messages, msg)
		ids = append(ids, msg.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return messages, nil
	}

	index := make(map[string]*types.Message, len(messages))
	for i := range messages {
		index[messages[i].ID] = &messages[i]
	}
	if err := s.loadParts(ctx, q, ids, index); err != nil {
		return nil, err
	}
	if err := s.loadAttachments(ctx, q, ids, index); err != nil {
		return nil, err
	}
	if err := s.loadUsage(ctx, q, ids, index); err != nil {
		return nil, err
	}
	if err := s.loadSnapshots(ctx, q, ids, index); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Store) loadParts(ctx context.Context, q querier, ids []string, index map[string]*types.Message) error {
	rows, err := q.QueryContext(ctx,
		`SELECT message_id, content FROM parts WHERE message_id IN (`+placeholders(len(ids))+`) ORDER BY message_id, ordering`,
		idArgs(ids)...)
	if err != nil {
		return fmt.Errorf("query parts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, content string
		if err := rows.Scan(&messageID, &content); err != nil {
			return err
		}
		part, err := types.UnmarshalPart([]byte(content))
		if err != nil {
			return fmt.Errorf("decode part for %s: %w", messageID, err)
		}
		if msg, ok := index[messageID]; ok {
			msg.Parts = append(msg.Parts, part)
		}
	}
	return rows.Err()
}

func (s *Store) loadAttachments(ctx context.Context, q querier, ids []string, index map[string]*types.Message) error {
	rows, err := q.QueryContext(ctx,
		`SELECT id, message_id, path, relative_path, size FROM attachments WHERE message_id IN (`+placeholders(len(ids))+`) ORDER BY id`,
		idArgs(ids)...)
	if err != nil {
		return fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var att types.Attachment
		if err := rows.Scan(&att.ID, &att.MessageID, &att.Path, &att.RelativePath, &att.Size); err != nil {
			return err
		}
		if msg, ok := index[att.MessageID]; ok {
			msg.Attachments = append(msg.Attachments, att)
		}
	}
	return rows.Err()
}

func (s *Store) loadUsage(ctx context.Context, q querier, ids []string, index map[string]*types.Message) error {
	rows, err := q.QueryContext(ctx,
		`SELECT message_id, prompt_tokens, completion_tokens, total_tokens FROM usage WHERE message_id IN (`+placeholders(len(ids))+`)`,
		idArgs(ids)...)
	if err != nil {
		return fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID string
		var usage types.TokenUsage
		if err := rows.Scan(&messageID, &usage.Prompt, &usage.Completion, &usage.Total); err != nil {
			return err
		}
		if msg, ok := index[messageID]; ok {
			msg.Usage = &usage
		}
	}
	return rows.Err()
}

func (s *Store) loadSnapshots(ctx context.Context, q querier, ids []string, index map[string]*types.Message) error {
	rows, err := q.QueryContext(ctx,
		`SELECT id, message_id, todo_id, content, active_form, status, ordering
		 FROM todo_snapshots WHERE message_id IN (`+placeholders(len(ids))+`) ORDER BY message_id, ordering`,
		idArgs(ids)...)
	if err != nil {
		return fmt.Errorf("query todo snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var snap types.TodoSnapshot
		if err := rows.Scan(&snap.ID, &snap.MessageID, &snap.TodoID, &snap.Content,
			&snap.ActiveForm, &snap.Status, &snap.Ordering); err != nil {
			return err
		}
		if msg, ok := index[snap.MessageID]; ok {
			msg.Todos = append(msg.Todos, snap)
		}
	}
	return rows.Err()
}

func marshalMetadata(metadata map[string]any) (*string, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	str := string(data)
	return &str, nil
}
