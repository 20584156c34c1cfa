package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/parley-ai/parley/internal/event"
	"github.com/parley-ai/parley/internal/logging"
	"github.com/parley-ai/parley/pkg/types"
)

// GetTodos returns a session's live todo list in display order.
func (s *Store) GetTodos(ctx context.Context, sessionID string) ([]types.TodoItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, content, active_form, status, ordering
		 FROM todos WHERE session_id = ? ORDER BY ordering ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	todos := []types.TodoItem{}
	for rows.Next() {
		var t types.TodoItem
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Content, &t.ActiveForm, &t.Status, &t.Ordering); err != nil {
			return nil, err
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

// UpdateTodos replaces a session's live todo list. Items with ID 0 are new
// and receive ids from the session counter; the counter only ever advances,
// so ids of deleted items are never reused. Replacement, id assignment and
// counter advance commit in one transaction.
func (s *Store) UpdateTodos(ctx context.Context, sessionID string, todos []types.TodoItem) ([]types.TodoItem, error) {
	var result []types.TodoItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = replaceTodos(ctx, tx, sessionID, todos)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update todos: %w", err)
	}

	logging.Debug().Str("session", sessionID).Int("count", len(result)).Msg("todos updated")
	s.publish(event.Event{Type: event.TodoUpdated, Data: event.TodoData{SessionID: sessionID, Todos: result}})
	return result, nil
}

// replaceTodos is the transactional body of UpdateTodos. It never mutates
// input and re-reads the counter from the session row, so a rolled-back
// attempt can be re-run without double-advancing ids.
func replaceTodos(ctx context.Context, tx *sql.Tx, sessionID string, input []types.TodoItem) ([]types.TodoItem, error) {
	var next int64
	err := tx.QueryRowContext(ctx, `SELECT next_todo_id FROM sessions WHERE id = ?`, sessionID).Scan(&next)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE session_id = ?`, sessionID); err != nil {
		return nil, err
	}

	result := make([]types.TodoItem, len(input))
	copy(result, input)
	for i := range result {
		t := &result[i]
		t.SessionID = sessionID
		t.Ordering = int64(i)
		if t.ID == 0 {
			t.ID = next
			next++
		}
		if t.Status == "" {
			t.Status = types.TodoPending
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO todos (id, session_id, content, active_form, status, ordering) VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, t.SessionID, t.Content, t.ActiveForm, t.Status, t.Ordering); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET next_todo_id = ?, updated = ? WHERE id = ?`, next, nowMillis(), sessionID); err != nil {
		return nil, err
	}
	return result, nil
}
