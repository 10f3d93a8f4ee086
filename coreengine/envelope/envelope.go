package envelope

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RouteDecision is the router's verdict attached to the envelope.
type RouteDecision struct {
	Decision    Decision    `json:"decision"`
	Confidence  int         `json:"confidence"`
	Reason      string      `json:"reason,omitempty"`
	Channels    []ChannelID `json:"channels"`
	AllChannels bool        `json:"all_channels"`
	FastPath    bool        `json:"fast_path"`
}

// ProcessingRecord represents a record of a single stage execution.
type ProcessingRecord struct {
	Stage       string     `json:"stage"`
	Round       int        `json:"round"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int        `json:"duration_ms"`
	Status      string     `json:"status"` // "running", "success", "degraded"
}

// Envelope is the request-scoped context threaded through every stage.
//
// Stage outputs are written only through the setter methods, which take the
// lock; the goroutine driving the request may read fields directly. Other
// goroutines (the caller's timeout path) must use Snapshot.
type Envelope struct {
	// Identification
	EnvelopeID string `json:"envelope_id"`
	RequestID  string `json:"request_id"`
	SessionID  string `json:"session_id"`

	// Original Input
	RawInput   string    `json:"raw_input"`
	Model      string    `json:"model,omitempty"`
	History    []Message `json:"history,omitempty"`
	ReceivedAt time.Time `json:"received_at"`

	// Stage Outputs
	Route              *RouteDecision   `json:"route,omitempty"`
	Profile            *ProspectProfile `json:"profile,omitempty"`
	SupportingContext  string           `json:"supporting_context,omitempty"`
	Brief              *CampaignBrief   `json:"brief,omitempty"`
	Examples           []DraftExample   `json:"examples,omitempty"`
	Drafts             DraftSet         `json:"drafts,omitempty"`
	Critique           *CritiqueResult  `json:"critique,omitempty"`
	Revision           RevisionState    `json:"revision"`
	ChannelsToGenerate []ChannelID      `json:"channels_to_generate,omitempty"`
	WriterCalls        int              `json:"writer_calls"`
	Reply              string           `json:"reply,omitempty"`

	// Outcome
	Faults         []Fault            `json:"faults,omitempty"`
	Terminated     bool               `json:"terminated"`
	TerminalReason *TerminalReason    `json:"terminal_reason,omitempty"`
	StageLog       []ProcessingRecord `json:"stage_log,omitempty"`

	mu sync.RWMutex
}

// NewEnvelope creates an envelope for one inbound request.
func NewEnvelope(rawInput, sessionID, model string, history []Message) *Envelope {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	return &Envelope{
		EnvelopeID: uuid.New().String(),
		RequestID:  uuid.New().String(),
		SessionID:  sessionID,
		RawInput:   rawInput,
		Model:      model,
		History:    append([]Message(nil), history...),
		ReceivedAt: time.Now().UTC(),
		Drafts:     DraftSet{},
	}
}

// SetRoute records the router decision.
func (e *Envelope) SetRoute(route RouteDecision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	route.Channels = append([]ChannelID(nil), route.Channels...)
	e.Route = &route
}

// AttachProfile attaches the prospect profile. A profile is immutable once
// attached; a second attach is an error.
func (e *Envelope) AttachProfile(profile *ProspectProfile, supportingContext string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Profile != nil {
		return fmt.Errorf("profile already attached to envelope %s", e.EnvelopeID)
	}
	e.Profile = profile.Clone()
	e.SupportingContext = supportingContext
	return nil
}

// SetBrief records the campaign brief.
func (e *Envelope) SetBrief(brief *CampaignBrief) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Brief = brief
}

// SetExamples records retrieved draft examples.
func (e *Envelope) SetExamples(examples []DraftExample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Examples = examples
}

// ReplaceDrafts swaps in the writer's output for a round.
func (e *Envelope) ReplaceDrafts(drafts DraftSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Drafts = drafts.Clone()
	e.WriterCalls++
}

// SetCritique records the latest critique.
func (e *Envelope) SetCritique(critique *CritiqueResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Critique = critique
}

// SetRevision publishes the kernel-owned revision counters and the channels
// queued for the next writer round.
func (e *Envelope) SetRevision(state RevisionState, channels []ChannelID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Revision = state
	e.ChannelsToGenerate = append([]ChannelID(nil), channels...)
}

// SetReply records a direct (non-drafting) reply.
func (e *Envelope) SetReply(reply string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Reply = reply
}

// AddFaults appends recovered faults.
func (e *Envelope) AddFaults(faults ...Fault) {
	if len(faults) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Faults = append(e.Faults, faults...)
}

// Terminate marks the envelope finished.
func (e *Envelope) Terminate(reason TerminalReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Terminated = true
	e.TerminalReason = &reason
}

// RecordStageStart appends a running record for a stage.
func (e *Envelope) RecordStageStart(stage string, round int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StageLog = append(e.StageLog, ProcessingRecord{
		Stage:     stage,
		Round:     round,
		StartedAt: time.Now().UTC(),
		Status:    "running",
	})
}

// RecordStageComplete closes the most recent running record for a stage.
func (e *Envelope) RecordStageComplete(stage string, status string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.StageLog) - 1; i >= 0; i-- {
		rec := &e.StageLog[i]
		if rec.Stage == stage && rec.Status == "running" {
			now := time.Now().UTC()
			rec.CompletedAt = &now
			rec.DurationMS = int(now.Sub(rec.StartedAt).Milliseconds())
			rec.Status = status
			return
		}
	}
}

// Snapshot is a point-in-time copy of the envelope safe to read from any goroutine.
type Snapshot struct {
	EnvelopeID        string
	RequestID         string
	SessionID         string
	RawInput          string
	Route             *RouteDecision
	Profile           *ProspectProfile
	SupportingContext string
	Brief             *CampaignBrief
	Drafts            DraftSet
	Critique          *CritiqueResult
	Revision          RevisionState
	WriterCalls       int
	Reply             string
	Faults            []Fault
	Terminated        bool
	TerminalReason    *TerminalReason
}

// Snapshot copies the envelope under its read lock.
func (e *Envelope) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Snapshot{
		EnvelopeID:        e.EnvelopeID,
		RequestID:         e.RequestID,
		SessionID:         e.SessionID,
		RawInput:          e.RawInput,
		Profile:           e.Profile.Clone(),
		SupportingContext: e.SupportingContext,
		Drafts:            e.Drafts.Clone(),
		Revision:          e.Revision,
		WriterCalls:       e.WriterCalls,
		Reply:             e.Reply,
		Faults:            append([]Fault(nil), e.Faults...),
		Terminated:        e.Terminated,
	}
	if e.Route != nil {
		route := *e.Route
		route.Channels = append([]ChannelID(nil), e.Route.Channels...)
		s.Route = &route
	}
	if e.Brief != nil {
		brief := *e.Brief
		brief.RequestedChannels = append([]ChannelID(nil), e.Brief.RequestedChannels...)
		brief.KeyPoints = append([]string(nil), e.Brief.KeyPoints...)
		s.Brief = &brief
	}
	if e.Critique != nil {
		critique := *e.Critique
		s.Critique = &critique
	}
	if e.TerminalReason != nil {
		reason := *e.TerminalReason
		s.TerminalReason = &reason
	}
	return s
}

// Metadata returns the result metadata reported alongside drafts.
func (s Snapshot) Metadata() map[string]any {
	meta := map[string]any{
		"envelope_id":    s.EnvelopeID,
		"request_id":     s.RequestID,
		"session_id":     s.SessionID,
		"revision_count": s.Revision.Count,
		"max_revisions":  s.Revision.Max,
		"writer_calls":   s.WriterCalls,
		"faults":         FaultCounts(s.Faults),
	}
	if s.Route != nil {
		meta["decision"] = string(s.Route.Decision)
		meta["confidence"] = s.Route.Confidence
	}
	if s.Profile != nil {
		meta["prospect"] = s.Profile.Name
		meta["sentinel_profile"] = s.Profile.IsSentinel()
	}
	if s.Critique != nil {
		meta["overall_score"] = s.Critique.OverallScore
		meta["passed"] = s.Critique.Passed
		meta["failed_open"] = s.Critique.FailedOpen
	}
	if s.TerminalReason != nil {
		meta["terminal_reason"] = string(*s.TerminalReason)
	}
	return meta
}
