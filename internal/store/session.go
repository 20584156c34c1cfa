package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parley-ai/parley/internal/event"
	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/pkg/types"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SessionGraph is a session together with its fully loaded messages.
type SessionGraph struct {
	Session  types.Session   `json:"session"`
	Messages []types.Message `json:"messages"`
}

// CreateSession inserts a new session with the given provider and model.
// The todo counter starts at 1.
func (s *Store) CreateSession(ctx context.Context, provider, model, agentID string, enabledRuleIDs []string) (*types.Session, error) {
	if agentID == "" {
		agentID = "default"
	}
	if enabledRuleIDs == nil {
		enabledRuleIDs = []string{}
	}
	rules, err := json.Marshal(enabledRuleIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal rule ids: %w", err)
	}

	sess := &types.Session{
		ID:             newID(),
		Provider:       provider,
		Model:          model,
		AgentID:        agentID,
		EnabledRuleIDs: enabledRuleIDs,
		NextTodoID:     1,
		Created:        nowMillis(),
	}
	sess.Updated = sess.Created

	err = retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, title, provider, model, agent_id, enabled_rule_ids, next_todo_id, created, updated)
			 VALUES (?, '', ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.Provider, sess.Model, sess.AgentID, string(rules), sess.NextTodoID, sess.Created, sess.Updated)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	logging.Debug().Str("session", sess.ID).Str("provider", provider).Str("model", model).Msg("session created")
	s.publish(event.Event{Type: event.SessionCreated, Data: event.SessionData{Info: sess}})
	return sess, nil
}

// GetSessionByID returns the session and its complete message history,
// messages ordered by insertion, each with parts, attachments, usage and
// todo snapshots. Returns (nil, nil) when no such session exists.
func (s *Store) GetSessionByID(ctx context.Context, id string) (*SessionGraph, error) {
	sess, err := s.getSession(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	messages, err := s.loadMessages(ctx, s.db,
		`SELECT id, session_id, role, timestamp, ordering, finish_reason, status, metadata
		 FROM messages WHERE session_id = ? ORDER BY ordering ASC`, id)
	if err != nil {
		return nil, err
	}
	return &SessionGraph{Session: *sess, Messages: messages}, nil
}

// GetRecentSessionsMetadata lists sessions newest-activity-first without
// loading message bodies. Each item carries its message count. The cursor
// is the updated timestamp of the last item of the previous page.
func (s *Store) GetRecentSessionsMetadata(ctx context.Context, limit int, cursor *int64) (Page[types.Session], error) {
	query := `SELECT id, title, provider, model, agent_id, enabled_rule_ids, next_todo_id, created, updated
	          FROM sessions`
	args := []any{}
	if cursor != nil {
		query += ` WHERE updated < ?`
		args = append(args, *cursor)
	}
	query += ` ORDER BY updated DESC LIMIT ?`
	args = append(args, limit+1)

	return s.sessionPage(ctx, query, args, limit)
}

// SearchSessionsMetadata lists sessions whose title contains query,
// newest-activity-first, with the same cursor contract as
// GetRecentSessionsMetadata.
func (s *Store) SearchSessionsMetadata(ctx context.Context, search string, limit int, cursor *int64) (Page[types.Session], error) {
	query := `SELECT id, title, provider, model, agent_id, enabled_rule_ids, next_todo_id, created, updated
	          FROM sessions WHERE title LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(search) + "%"}
	if cursor != nil {
		query += ` AND updated < ?`
		args = append(args, *cursor)
	}
	query += ` ORDER BY updated DESC LIMIT ?`
	args = append(args, limit+1)

	return s.sessionPage(ctx, query, args, limit)
}

// escapeLike neutralizes LIKE metacharacters so a search term matches
// literally.
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}

func (s *Store) sessionPage(ctx context.Context, query string, args []any, limit int) (Page[types.Session], error) {
	page := Page[types.Session]{Items: []types.Session{}}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return page, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return page, err
		}
		page.Items = append(page.Items, *sess)
	}
	if err := rows.Err(); err != nil {
		return page, err
	}

	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		next := page.Items[limit-1].Updated
		page.NextCursor = &next
	}
	if err := s.fillMessageCounts(ctx, page.Items); err != nil {
		return page, err
	}
	return page, nil
}

// fillMessageCounts resolves message counts for a page of sessions with
// one grouped query.
func (s *Store) fillMessageCounts(ctx context.Context, sessions []types.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	ids := make([]string, len(sessions))
	index := make(map[string]int, len(sessions))
	for i := range sessions {
		ids[i] = sessions[i].ID
		index[sessions[i].ID] = i
	}

	query := `SELECT session_id, COUNT(*) FROM messages WHERE session_id IN (` + placeholders(len(ids)) + `) GROUP BY session_id`
	rows, err := s.db.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return err
		}
		if i, ok := index[id]; ok {
			sessions[i].MessageCount = count
		}
	}
	return rows.Err()
}

// SetTitle updates a session title and bumps its activity timestamp.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	return s.updateSessionRow(ctx, id, `UPDATE sessions SET title = ?, updated = ? WHERE id = ?`, title)
}

// UpdateSessionConfig changes the provider, model, agent and enabled rules
// of a session and bumps its activity timestamp.
func (s *Store) UpdateSessionConfig(ctx context.Context, id, provider, model, agentID string, enabledRuleIDs []string) error {
	if enabledRuleIDs == nil {
		enabledRuleIDs = []string{}
	}
	rules, err := json.Marshal(enabledRuleIDs)
	if err != nil {
		return fmt.Errorf("marshal rule ids: %w", err)
	}
	return s.updateSessionRow(ctx, id,
		`UPDATE sessions SET provider = ?, model = ?, agent_id = ?, enabled_rule_ids = ?, updated = ? WHERE id = ?`,
		provider, model, agentID, string(rules))
}

// updateSessionRow runs an UPDATE whose final two placeholders are the
// activity timestamp and the session id, then publishes the new state.
func (s *Store) updateSessionRow(ctx context.Context, id, query string, args ...any) error {
	args = append(args, nowMillis(), id)
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("session %s not found", id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	sess, err := s.getSession(ctx, s.db, id)
	if err == nil && sess != nil {
		s.publish(event.Event{Type: event.SessionUpdated, Data: event.SessionData{Info: sess}})
	}
	return nil
}

// DeleteSession removes a session and, through cascading foreign keys, all
// of its messages, parts, attachments, usage, todos and snapshots.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	logging.Debug().Str("session", id).Msg("session deleted")
	s.publish(event.Event{Type: event.SessionDeleted, Data: event.SessionData{Info: &types.Session{ID: id}}})
	return nil
}

func (s *Store) getSession(ctx context.Context, q querier, id string) (*types.Session, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, title, provider, model, agent_id, enabled_rule_ids, next_todo_id, created, updated
		 FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var sess types.Session
	var rules string
	if err := row.Scan(&sess.ID, &sess.Title, &sess.Provider, &sess.Model, &sess.AgentID,
		&rules, &sess.NextTodoID, &sess.Created, &sess.Updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rules), &sess.EnabledRuleIDs); err != nil {
		return nil, fmt.Errorf("decode rule ids for %s: %w", sess.ID, err)
	}
	return &sess, nil
}
