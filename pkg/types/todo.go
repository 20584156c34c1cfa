package types

// Todo statuses.
const (
	TodoPending    = "pending"
	TodoInProgress = "in_progress"
	TodoCompleted  = "completed"
)

// TodoItem is one entry of a session's live task list. IDs are unique per
// session, not globally, and are assigned from the session's counter.
type TodoItem struct {
	ID         int64  `json:"id"`
	SessionID  string `json:"sessionID"`
	Content    string `json:"content"`
	ActiveForm string `json:"activeForm"`
	Status     string `json:"status"`
	Ordering   int64  `json:"ordering"`
}

// TodoSnapshot is an immutable copy of one todo item as it stood when a
// message was created. TodoID is the historical identifier only; the live
// todo it came from may have been deleted since.
type TodoSnapshot struct {
	ID         string `json:"id"`
	MessageID  string `json:"messageID"`
	TodoID     int64  `json:"todoID"`
	Content    string `json:"content"`
	ActiveForm string `json:"activeForm"`
	Status     string `json:"status"`
	Ordering   int64  `json:"ordering"`
}
