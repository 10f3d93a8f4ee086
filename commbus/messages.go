// Package commbus message definitions.
//
// Categories:
//   - EVENT: fire-and-forget, fan-out to subscribers
//   - QUERY: request-response, single handler
package commbus

import "time"

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
)

// Event type names used for subscription.
const (
	EventStageStarted      = "StageStarted"
	EventStageCompleted    = "StageCompleted"
	EventRevisionStarted   = "RevisionStarted"
	EventDraftsProduced    = "DraftsProduced"
	EventCritiqueCompleted = "CritiqueCompleted"
	EventPipelineCompleted = "PipelineCompleted"
	QueryGetRunState       = "GetRunState"
)

// ProgressEventTypes lists every run progress event, in emission order.
var ProgressEventTypes = []string{
	EventStageStarted,
	EventStageCompleted,
	EventRevisionStarted,
	EventDraftsProduced,
	EventCritiqueCompleted,
	EventPipelineCompleted,
}

// =============================================================================
// STAGE EVENTS
// =============================================================================

// StageStarted is emitted when a pipeline stage begins.
// Subscribers: streaming responses, trace logging.
type StageStarted struct {
	RequestID string    `json:"request_id"`
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Round     int       `json:"round"`
	Timestamp time.Time `json:"timestamp"`
}

// Category implements the Message interface.
func (m *StageStarted) Category() string { return string(MessageCategoryEvent) }

// RunID implements RunEvent.
func (m *StageStarted) RunID() string { return m.RequestID }

// StageCompleted is emitted when a pipeline stage finishes.
type StageCompleted struct {
	RequestID  string `json:"request_id"`
	SessionID  string `json:"session_id"`
	Stage      string `json:"stage"`
	Round      int    `json:"round"`
	Status     string `json:"status"` // "success", "degraded"
	DurationMS int    `json:"duration_ms"`
	Faults     int    `json:"faults"`
}

// Category implements the Message interface.
func (m *StageCompleted) Category() string { return string(MessageCategoryEvent) }

// RunID implements RunEvent.
func (m *StageCompleted) RunID() string { return m.RequestID }

// =============================================================================
// DRAFTING EVENTS
// =============================================================================

// RevisionStarted is emitted when the critic rejected channels and the
// writer is re-invoked for them.
type RevisionStarted struct {
	RequestID string   `json:"request_id"`
	SessionID string   `json:"session_id"`
	Round     int      `json:"round"`
	Max       int      `json:"max"`
	Channels  []string `json:"channels"`
}

// Category implements the Message interface.
func (m *RevisionStarted) Category() string { return string(MessageCategoryEvent) }

// RunID implements RunEvent.
func (m *RevisionStarted) RunID() string { return m.RequestID }

// DraftsProduced carries the draft set after a writer round.
type DraftsProduced struct {
	RequestID string            `json:"request_id"`
	SessionID string            `json:"session_id"`
	Round     int               `json:"round"`
	Drafts    map[string]string `json:"drafts"`
}

// Category implements the Message interface.
func (m *DraftsProduced) Category() string { return string(MessageCategoryEvent) }

// RunID implements RunEvent.
func (m *DraftsProduced) RunID() string { return m.RequestID }

// CritiqueCompleted carries the critic verdict for a round.
type CritiqueCompleted struct {
	RequestID    string         `json:"request_id"`
	SessionID    string         `json:"session_id"`
	Round        int            `json:"round"`
	OverallScore int            `json:"overall_score"`
	Scores       map[string]int `json:"scores"`
	Passed       bool           `json:"passed"`
	FailedOpen   bool           `json:"failed_open"`
	Rejected     []string       `json:"rejected"`
}

// Category implements the Message interface.
func (m *CritiqueCompleted) Category() string { return string(MessageCategoryEvent) }

// RunID implements RunEvent.
func (m *CritiqueCompleted) RunID() string { return m.RequestID }

// PipelineCompleted is emitted once per run with its terminal reason.
type PipelineCompleted struct {
	RequestID      string `json:"request_id"`
	SessionID      string `json:"session_id"`
	TerminalReason string `json:"terminal_reason"`
	WriterCalls    int    `json:"writer_calls"`
	Revisions      int    `json:"revisions"`
	DurationMS     int    `json:"duration_ms"`
}

// Category implements the Message interface.
func (m *PipelineCompleted) Category() string { return string(MessageCategoryEvent) }

// RunID implements RunEvent.
func (m *PipelineCompleted) RunID() string { return m.RequestID }

// =============================================================================
// QUERIES
// =============================================================================

// GetRunState asks the orchestrator for the state of an active run.
type GetRunState struct {
	RequestID string `json:"request_id"`
}

// Category implements the Message interface.
func (m *GetRunState) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetRunState) IsQuery() {}

// =============================================================================
// MESSAGE TYPE RESOLUTION
// =============================================================================

// TypedMessage is an optional interface for messages that can provide their own type name.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	switch msg.(type) {
	case *StageStarted:
		return EventStageStarted
	case *StageCompleted:
		return EventStageCompleted
	case *RevisionStarted:
		return EventRevisionStarted
	case *DraftsProduced:
		return EventDraftsProduced
	case *CritiqueCompleted:
		return EventCritiqueCompleted
	case *PipelineCompleted:
		return EventPipelineCompleted
	case *GetRunState:
		return QueryGetRunState
	default:
		return "Unknown"
	}
}
