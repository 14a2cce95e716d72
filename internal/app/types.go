package app

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is a conversation or message lifecycle state as reported by the
// backend. The client never invents transitions: running moves forward to
// completed or failed and stops there.
type Status string

const (
	StatusActive    Status = "active"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further updates are expected or accepted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one entry in a conversation transcript. Only the most recent
// agent message (the tail) is mutated in place while a stream is running;
// everything before it is append-only.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	AgentName string    `json:"agentName,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Progress  float64   `json:"progress,omitempty"`
}

// NewMessageID returns a time-sortable message id.
func NewMessageID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// ConversationSummary is the listing shape returned by the backend. It is
// only ever written by coordinator logic applying server-reported state.
type ConversationSummary struct {
	ID           string    `json:"id"`
	RepoURL      string    `json:"repoUrl"`
	RepoName     string    `json:"repoName,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	MessageCount int       `json:"messageCount"`
}

// ConversationRecord is the locally persisted conversation: the full
// transcript plus enough metadata to resume after a restart. The
// coordinator is its only writer; the store is a passive mirror.
type ConversationRecord struct {
	ID        string    `json:"id"`
	RepoURL   string    `json:"repoUrl"`
	Messages  []Message `json:"messages"`
	Timestamp time.Time `json:"timestamp"`
}

// UpdateType classifies one stream frame.
type UpdateType string

const (
	UpdateThinking  UpdateType = "thinking"
	UpdateTool      UpdateType = "tool"
	UpdatePartial   UpdateType = "partial"
	UpdateComplete  UpdateType = "complete"
	UpdateError     UpdateType = "error"
	UpdateConnected UpdateType = "connected"
)

// StreamUpdate is the decoded payload of one SSE frame. It is transient:
// folded into the tail message and discarded.
type StreamUpdate struct {
	ConversationID string     `json:"conversationId"`
	Type           UpdateType `json:"type"`
	Status         Status     `json:"status,omitempty"`
	Content        string     `json:"content,omitempty"`
	AgentName      string     `json:"agentName,omitempty"`
	Tool           string     `json:"tool,omitempty"`
	Progress       float64    `json:"progress,omitempty"`
}

// Terminal reports whether this frame ends the stream.
func (u StreamUpdate) Terminal() bool {
	if u.Status.Terminal() {
		return true
	}
	return u.Type == UpdateComplete || u.Type == UpdateError
}

// TerminalStatus maps a terminal frame onto the message status to stamp.
func (u StreamUpdate) TerminalStatus() Status {
	if u.Type == UpdateError || u.Status == StatusFailed {
		return StatusFailed
	}
	return StatusCompleted
}
