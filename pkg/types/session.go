// Package types defines the shared data model for sessions, messages and
// message parts.
package types

// Session is one persisted conversation scoped to a provider/model/agent
// configuration. It owns its messages and todo items.
type Session struct {
	ID             string   `json:"id"`
	Title          string   `json:"title,omitempty"`
	Provider       string   `json:"provider"`
	Model          string   `json:"model"`
	AgentID        string   `json:"agentID"`
	EnabledRuleIDs []string `json:"enabledRuleIDs,omitempty"`
	NextTodoID     int64    `json:"nextTodoID"`
	Created        int64    `json:"created"`
	Updated        int64    `json:"updated"`

	// MessageCount is populated by metadata queries only; it is not a
	// stored column.
	MessageCount int64 `json:"messageCount,omitempty"`
}
