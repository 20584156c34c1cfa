// Package agent provides agent personas, user rules and system prompt
// composition.
package agent

// DefaultAgentID is the agent used when a requested id is absent.
const DefaultAgentID = "default"

// Agent is a persona configuration. Instructions is the persona's base
// system prompt text.
type Agent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Instructions string `json:"instructions"`
}

// Rule is a user-authored instruction block that can be enabled per session.
type Rule struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Body string `json:"body"`
}
