// Package runtime runs outreach requests end to end.
//
// A Runner loads the session transcript, drives the orchestrator under the
// request deadline and always returns something usable: when the deadline
// fires or the pipeline fails, the response carries deterministic fallback
// drafts built from whatever the run had established.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeeves-cluster-organization/outreach/commbus"
	"github.com/jeeves-cluster-organization/outreach/coreengine/agents"
	"github.com/jeeves-cluster-organization/outreach/coreengine/config"
	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/kernel"
	"github.com/jeeves-cluster-organization/outreach/coreengine/logging"
	"github.com/jeeves-cluster-organization/outreach/coreengine/observability"
	"github.com/jeeves-cluster-organization/outreach/coreengine/speech"
)

// maxHistoryTurns bounds the transcript loaded as conversation history.
const maxHistoryTurns = 20

// Event types streamed by Stream, in the order a full run emits them.
const (
	EventTypeStageStarted      = "stage_started"
	EventTypeStageCompleted    = "stage_completed"
	EventTypeDraftsProduced    = "drafts_produced"
	EventTypeCritiqueCompleted = "critique_completed"
	EventTypeRevisionStarted   = "revision_started"
	EventTypePipelineCompleted = "pipeline_completed"
	EventTypeFinal             = "final"
)

// Request is one inbound outreach request.
type Request struct {
	Message   string             `json:"message"`
	Model     string             `json:"model,omitempty"`
	History   []envelope.Message `json:"conversation_history,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
}

// Response is the result of a request: drafts keyed by channel, or a reply.
type Response struct {
	RequestID string            `json:"request_id"`
	SessionID string            `json:"session_id"`
	Content   envelope.DraftSet `json:"content,omitempty"`
	Reply     string            `json:"reply,omitempty"`
	Metadata  map[string]any    `json:"metadata"`
}

// HasDrafts reports whether the response carries channel content.
func (r *Response) HasDrafts() bool {
	return len(r.Content) > 0
}

// Event is one progress update of a streamed request. The last event of a
// stream has Type "final" and carries the Response.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	Stage     string         `json:"stage,omitempty"`
	Round     int            `json:"round,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Response  *Response      `json:"response,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Pipeline runs one envelope to a terminal state.
type Pipeline interface {
	Run(ctx context.Context, env *envelope.Envelope, opts ...kernel.Option) error
}

// Transcripts stores the turns of a session.
type Transcripts interface {
	AppendTranscript(ctx context.Context, sessionID, role, content string, drafts envelope.DraftSet)
	Transcript(ctx context.Context, sessionID string) []envelope.Message
	LatestDrafts(ctx context.Context, sessionID string) (envelope.DraftSet, bool)
}

// Deps are the collaborators of a Runner. Pipeline, Config and Logger are
// required; the rest are optional.
type Deps struct {
	Pipeline    Pipeline
	Router      kernel.Router
	Bus         commbus.CommBus
	Transcripts Transcripts
	Speech      speech.Synthesizer
	Config      *config.OutreachConfig
	Logger      logging.Logger

	// Timeout overrides Config.RequestTimeout when positive.
	Timeout time.Duration
}

// Runner executes requests against the pipeline.
type Runner struct {
	pipeline    Pipeline
	router      kernel.Router
	bus         commbus.CommBus
	transcripts Transcripts
	speech      speech.Synthesizer
	cfg         *config.OutreachConfig
	logger      logging.Logger
	timeout     time.Duration

	// inflight tracks pipeline goroutines, including ones abandoned at the
	// deadline.
	inflight sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(deps Deps) *Runner {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultOutreachConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = cfg.RequestTimeoutDuration()
	}
	return &Runner{
		pipeline:    deps.Pipeline,
		router:      deps.Router,
		bus:         deps.Bus,
		transcripts: deps.Transcripts,
		speech:      deps.Speech,
		cfg:         cfg,
		logger:      logger.Bind("component", "runtime"),
		timeout:     timeout,
	}
}

// =============================================================================
// EXECUTION
// =============================================================================

// Run executes a request and returns its response. The response is never nil;
// on timeout it carries fallback drafts and terminal_reason "timed_out".
func (r *Runner) Run(ctx context.Context, req Request) *Response {
	env, opts := r.prepare(ctx, req)
	resp := r.execute(ctx, env, opts)
	r.record(ctx, req, resp)
	return resp
}

// Stream executes a request and reports progress on the returned channel.
// The final event carries the response and the channel is closed after it.
// Callers must drain the channel or cancel ctx.
func (r *Runner) Stream(ctx context.Context, req Request) <-chan Event {
	env, opts := r.prepare(ctx, req)
	sink := newEventSink(ctx)

	var unsubscribe []func()
	if r.bus != nil {
		for _, eventType := range commbus.ProgressEventTypes {
			unsubscribe = append(unsubscribe, r.bus.Subscribe(eventType, func(_ context.Context, msg commbus.Message) (any, error) {
				ev, ok := msg.(commbus.RunEvent)
				if !ok || ev.RunID() != env.RequestID {
					return nil, nil
				}
				if event, ok := progressEvent(msg); ok {
					sink.send(event)
				}
				return nil, nil
			}))
		}
	}

	go func() {
		resp := r.execute(ctx, env, opts)
		for _, unsub := range unsubscribe {
			unsub()
		}
		r.record(ctx, req, resp)
		sink.sendFinal(Event{
			ID:        uuid.New().String(),
			Type:      EventTypeFinal,
			RequestID: resp.RequestID,
			Response:  resp,
			Timestamp: time.Now().UTC(),
		})
		sink.close()
	}()
	return sink.ch
}

// Classify routes a request without running the pipeline.
func (r *Runner) Classify(ctx context.Context, req Request) (agents.RouteResult, error) {
	if r.router == nil {
		return agents.RouteResult{}, errors.New("runtime: no router configured")
	}
	history := r.history(ctx, req)
	ctx = agents.WithModel(ctx, req.Model)
	return r.router.Classify(ctx, req.Message, history), nil
}

// Wait blocks until every pipeline goroutine started by the runner has
// returned.
func (r *Runner) Wait() {
	r.inflight.Wait()
}

func (r *Runner) history(ctx context.Context, req Request) []envelope.Message {
	if len(req.History) > 0 || r.transcripts == nil || req.SessionID == "" {
		return req.History
	}
	history := r.transcripts.Transcript(ctx, req.SessionID)
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	return history
}

func (r *Runner) prepare(ctx context.Context, req Request) (*envelope.Envelope, []kernel.Option) {
	env := envelope.NewEnvelope(req.Message, req.SessionID, req.Model, r.history(ctx, req))

	var opts []kernel.Option
	if r.transcripts != nil && req.SessionID != "" {
		if previous, ok := r.transcripts.LatestDrafts(ctx, req.SessionID); ok {
			opts = append(opts, kernel.WithPreviousDrafts(previous))
		}
	}
	return env, opts
}

func (r *Runner) execute(ctx context.Context, env *envelope.Envelope, opts []kernel.Option) *Response {
	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	r.inflight.Add(1)
	kernel.SafeGo(r.logger, "pipeline.run", func() {
		defer r.inflight.Done()
		done <- r.pipeline.Run(runCtx, env, opts...)
	}, func(perr *kernel.PanicError) {
		done <- perr
	})

	var err error
	select {
	case err = <-done:
	case <-runCtx.Done():
		err = runCtx.Err()
	}

	snap := env.Snapshot()
	if !snap.Terminated {
		snap = r.fallback(snap, err)
	}
	return r.respond(ctx, snap, started)
}

// fallback terminates an unfinished snapshot with deterministic content.
func (r *Runner) fallback(snap envelope.Snapshot, cause error) envelope.Snapshot {
	if cause == nil {
		cause = errors.New("pipeline stopped before a terminal state")
	}
	kind := envelope.ErrorKindTimeout
	if !errors.Is(cause, context.DeadlineExceeded) && !errors.Is(cause, context.Canceled) {
		kind = envelope.ErrorKindCollaborator
	}
	if !hasFault(snap.Faults, kind) {
		snap.Faults = append(snap.Faults, envelope.NewFault(kind, "runtime", cause))
		observability.RecordFault(string(kind), "runtime")
	}

	reason := envelope.TerminalReasonTimedOut
	snap.Terminated = true
	snap.TerminalReason = &reason
	if snap.Route != nil && !snap.Route.Decision.RunsPipeline() {
		if snap.Reply == "" {
			snap.Reply = agents.FallbackReply
		}
	} else {
		if snap.Profile == nil {
			snap.Profile = envelope.SentinelProfile(snap.RawInput)
		}
		snap.Drafts = FallbackDrafts(snap)
	}

	r.logger.Warn("pipeline_fallback",
		"request_id", snap.RequestID,
		"session_id", snap.SessionID,
		"cause", cause.Error(),
		"drafts", len(snap.Drafts),
	)
	return snap
}

// FallbackDrafts completes the draft set of an unfinished run. Drafts already
// written are kept; every missing channel gets a template draft built from the
// profile and brief, or from the raw input when neither exists yet.
func FallbackDrafts(snap envelope.Snapshot) envelope.DraftSet {
	profile := snap.Profile
	if profile == nil {
		profile = envelope.SentinelProfile(snap.RawInput)
	}

	var channels []envelope.ChannelID
	switch {
	case snap.Brief != nil && len(snap.Brief.RequestedChannels) > 0:
		channels = snap.Brief.RequestedChannels
	case snap.Route != nil && len(snap.Route.Channels) > 0:
		channels = snap.Route.Channels
	default:
		channels = envelope.DefaultChannels
	}

	brief := snap.Brief
	if brief == nil {
		if profile.IsSentinel() {
			brief = agents.GenericBrief(channels)
		} else {
			brief = agents.ProfileBrief(profile, channels)
		}
	}

	drafts := snap.Drafts.Clone()
	for _, channel := range channels {
		if strings.TrimSpace(drafts[channel]) == "" {
			drafts[channel] = agents.TemplateDraft(channel, profile, brief)
		}
	}
	return drafts
}

func hasFault(faults []envelope.Fault, kind envelope.ErrorKind) bool {
	for _, f := range faults {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// respond assembles the response for a terminated snapshot.
func (r *Runner) respond(ctx context.Context, snap envelope.Snapshot, started time.Time) *Response {
	resp := &Response{
		RequestID: snap.RequestID,
		SessionID: snap.SessionID,
		Metadata:  snap.Metadata(),
	}
	if len(snap.Drafts) > 0 {
		resp.Content = snap.Drafts
	} else {
		resp.Reply = snap.Reply
	}
	resp.Metadata["duration_ms"] = int(time.Since(started).Milliseconds())

	if email, ok := resp.Content[envelope.ChannelEmail]; ok && r.cfg.EnableHTMLRender {
		rendered, err := RenderEmailHTML(email)
		if err != nil {
			r.logger.Warn("email_render_failed", "request_id", snap.RequestID, "error", err.Error())
		} else {
			resp.Metadata["email_subject"] = rendered.Subject
			resp.Metadata["email_html"] = rendered.HTML
		}
	}

	if sms, ok := resp.Content[envelope.ChannelSMS]; ok && r.cfg.EnableSpeech && r.speech != nil {
		ref, err := r.speech.Synthesize(ctx, sms)
		if err != nil {
			r.logger.Warn("speech_synthesis_failed", "request_id", snap.RequestID, "error", err.Error())
		} else {
			resp.Metadata["audio_ref"] = ref
		}
	}
	return resp
}

// record appends the request and its response to the session transcript.
func (r *Runner) record(ctx context.Context, req Request, resp *Response) {
	if r.transcripts == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	r.transcripts.AppendTranscript(ctx, resp.SessionID, "user", req.Message, nil)
	if resp.HasDrafts() {
		r.transcripts.AppendTranscript(ctx, resp.SessionID, "assistant", draftSummary(resp.Content), resp.Content)
		return
	}
	r.transcripts.AppendTranscript(ctx, resp.SessionID, "assistant", resp.Reply, nil)
}

// draftSummary is the assistant turn recorded for a draft set.
func draftSummary(drafts envelope.DraftSet) string {
	var b strings.Builder
	for i, channel := range drafts.Channels() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s]\n%s", channel, drafts[channel])
	}
	return b.String()
}

// =============================================================================
// STREAMING
// =============================================================================

// eventSink guards the stream channel so a publish racing the final event
// never sends on a closed channel and never lands after the final event.
type eventSink struct {
	ctx    context.Context
	ch     chan Event
	mu     sync.RWMutex
	final  bool
	closed bool
}

func newEventSink(ctx context.Context) *eventSink {
	return &eventSink{ctx: ctx, ch: make(chan Event, 16)}
}

func (s *eventSink) send(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.final {
		return
	}
	select {
	case s.ch <- ev:
	case <-s.ctx.Done():
	}
}

// sendFinal sends the terminal event. Sends already in flight finish first;
// later progress sends are dropped.
func (s *eventSink) sendFinal(ev Event) {
	s.mu.Lock()
	if s.closed || s.final {
		s.mu.Unlock()
		return
	}
	s.final = true
	s.mu.Unlock()

	select {
	case s.ch <- ev:
	case <-s.ctx.Done():
	}
}

func (s *eventSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// progressEvent converts a bus event. Data holds only JSON-compatible values.
func progressEvent(msg commbus.Message) (Event, bool) {
	ev := Event{ID: uuid.New().String(), Timestamp: time.Now().UTC()}
	switch m := msg.(type) {
	case *commbus.StageStarted:
		ev.Type, ev.RequestID, ev.Stage, ev.Round = EventTypeStageStarted, m.RequestID, m.Stage, m.Round
	case *commbus.StageCompleted:
		ev.Type, ev.RequestID, ev.Stage, ev.Round = EventTypeStageCompleted, m.RequestID, m.Stage, m.Round
		ev.Data = map[string]any{"status": m.Status, "duration_ms": m.DurationMS, "faults": m.Faults}
	case *commbus.RevisionStarted:
		ev.Type, ev.RequestID, ev.Round = EventTypeRevisionStarted, m.RequestID, m.Round
		ev.Data = map[string]any{"max": m.Max, "channels": anySlice(m.Channels)}
	case *commbus.DraftsProduced:
		ev.Type, ev.RequestID, ev.Round = EventTypeDraftsProduced, m.RequestID, m.Round
		drafts := make(map[string]any, len(m.Drafts))
		for channel, text := range m.Drafts {
			drafts[channel] = text
		}
		ev.Data = map[string]any{"drafts": drafts}
	case *commbus.CritiqueCompleted:
		ev.Type, ev.RequestID, ev.Round = EventTypeCritiqueCompleted, m.RequestID, m.Round
		scores := make(map[string]any, len(m.Scores))
		for channel, score := range m.Scores {
			scores[channel] = score
		}
		ev.Data = map[string]any{
			"overall_score": m.OverallScore,
			"scores":        scores,
			"passed":        m.Passed,
			"failed_open":   m.FailedOpen,
			"rejected":      anySlice(m.Rejected),
		}
	case *commbus.PipelineCompleted:
		ev.Type, ev.RequestID = EventTypePipelineCompleted, m.RequestID
		ev.Data = map[string]any{
			"terminal_reason": m.TerminalReason,
			"writer_calls":    m.WriterCalls,
			"revisions":       m.Revisions,
			"duration_ms":     m.DurationMS,
		}
	default:
		return Event{}, false
	}
	return ev, true
}

func anySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
