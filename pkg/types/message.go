package types

import "encoding/json"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message lifecycle statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusAbort     = "abort"
)

// Message represents a user or assistant message in a conversation.
// Parts, Attachments, Usage and Todos are owned child rows; the repository
// reconstructs them on read.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	Role      string         `json:"role"`
	Timestamp int64          `json:"timestamp"`
	Ordering  int64          `json:"ordering"`
	Finish    *string        `json:"finish,omitempty"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Content is the scalar content form some callers supply instead of
	// Parts. NormalizeMessage folds it into Parts.
	Content string `json:"content,omitempty"`

	Parts       []Part         `json:"parts,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Usage       *TokenUsage    `json:"usage,omitempty"`
	Todos       []TodoSnapshot `json:"todos,omitempty"`
}

// UnmarshalJSON decodes the parts array through the part tagged union.
func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := struct {
		*Alias
		Parts []json.RawMessage `json:"parts,omitempty"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Parts = nil
	for _, raw := range aux.Parts {
		part, err := UnmarshalPart(raw)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

// Attachment is a file referenced by a message.
type Attachment struct {
	ID           string `json:"id"`
	MessageID    string `json:"messageID"`
	Path         string `json:"path"`
	RelativePath string `json:"relativePath"`
	Size         *int64 `json:"size,omitempty"`
}

// TokenUsage contains token accounting for one assistant message.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// NormalizeMessage canonicalizes scalar content into the part-array form.
// A message that already carries parts is returned unchanged, so the
// operation is idempotent and lossless.
func NormalizeMessage(m Message) Message {
	if len(m.Parts) > 0 || m.Content == "" {
		return m
	}
	m.Parts = []Part{&TextPart{
		ID:     m.ID + "-0",
		Type:   PartTypeText,
		Text:   m.Content,
		Status: PartStatusCompleted,
	}}
	m.Content = ""
	return m
}

// NormalizeHistory applies NormalizeMessage to every message.
func NormalizeHistory(history []Message) []Message {
	out := make([]Message, len(history))
	for i, m := range history {
		out[i] = NormalizeMessage(m)
	}
	return out
}
