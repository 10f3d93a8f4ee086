// Package kernel drives the drafting pipeline.
//
// The Orchestrator:
//   - Owns the state machine (routing → profiling → strategizing → drafting ⇄ critiquing → done)
//   - Owns the revision budget; no stage can change it
//   - Re-invokes the writer for rejected channels only
//   - Publishes run progress on the commbus
//   - Converts stage panics into faults
package kernel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jeeves-cluster-organization/outreach/commbus"
	"github.com/jeeves-cluster-organization/outreach/coreengine/agents"
	"github.com/jeeves-cluster-organization/outreach/coreengine/config"
	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/observability"
)

var tracer = otel.Tracer("outreach/kernel")

// =============================================================================
// Stage Interfaces
// =============================================================================

// Router classifies a request.
type Router interface {
	Classify(ctx context.Context, text string, history []envelope.Message) agents.RouteResult
}

// Profiler builds the prospect profile.
type Profiler interface {
	Extract(ctx context.Context, text string) agents.ProfileResult
}

// Strategist plans the campaign.
type Strategist interface {
	Plan(ctx context.Context, profile *envelope.ProspectProfile, detected []envelope.ChannelID, allChannels bool, supportingContext string, conversation []envelope.Message) agents.BriefResult
}

// Writer drafts the requested channels.
type Writer interface {
	Draft(ctx context.Context, req agents.WriteRequest) (envelope.DraftSet, []envelope.Fault)
}

// Critic scores drafts.
type Critic interface {
	Evaluate(ctx context.Context, drafts envelope.DraftSet, profile *envelope.ProspectProfile, channels []envelope.ChannelID) (*envelope.CritiqueResult, []envelope.Fault)
}

// Replier answers conversational requests.
type Replier interface {
	Reply(ctx context.Context, text string, history []envelope.Message) (string, []envelope.Fault)
}

// DraftMemory stores accepted drafts and retrieves similar ones.
type DraftMemory interface {
	FindSimilarDrafts(ctx context.Context, query string, limit int) []envelope.DraftExample
	SaveDraftExample(ctx context.Context, profile *envelope.ProspectProfile, brief *envelope.CampaignBrief, channel envelope.ChannelID, text string)
}

// Stages bundles the pipeline stages.
type Stages struct {
	Router     Router
	Profiler   Profiler
	Strategist Strategist
	Writer     Writer
	Critic     Critic
	Replier    Replier
}

// NewStages builds every stage from shared agent dependencies.
func NewStages(deps agents.Deps) Stages {
	return Stages{
		Router:     agents.NewRouter(deps),
		Profiler:   agents.NewProfiler(deps),
		Strategist: agents.NewStrategist(deps),
		Writer:     agents.NewWriter(deps),
		Critic:     agents.NewCritic(deps),
		Replier:    agents.NewReplier(deps),
	}
}

// =============================================================================
// Run State
// =============================================================================

// RunState is the external view of an active run.
type RunState struct {
	RequestID      string                 `json:"request_id"`
	SessionID      string                 `json:"session_id"`
	State          State                  `json:"state"`
	Revision       envelope.RevisionState `json:"revision"`
	Transitions    map[string]int         `json:"transitions"` // "from->to" -> count
	StartedAt      time.Time              `json:"started_at"`
	LastActivityAt time.Time              `json:"last_activity_at"`
}

type run struct {
	env      *envelope.Envelope
	opts     runOptions
	state    State
	revision envelope.RevisionState
	edges    map[string]int
	started  time.Time
	touched  time.Time
}

// Option configures one Run.
type Option func(*runOptions)

type runOptions struct {
	previous envelope.DraftSet
}

// WithPreviousDrafts supplies the session's last drafts for a refine request.
func WithPreviousDrafts(drafts envelope.DraftSet) Option {
	return func(o *runOptions) {
		o.previous = drafts.Clone()
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs requests through the pipeline. It is safe for
// concurrent use; each Run owns its envelope.
type Orchestrator struct {
	stages Stages
	memory DraftMemory
	bus    commbus.CommBus
	cfg    *config.OutreachConfig
	logger Logger

	runs map[string]*run
	mu   sync.RWMutex
}

// NewOrchestrator creates an Orchestrator. memory and bus may be nil.
func NewOrchestrator(stages Stages, memory DraftMemory, bus commbus.CommBus, cfg *config.OutreachConfig, logger Logger) *Orchestrator {
	if cfg == nil {
		cfg = config.DefaultOutreachConfig()
	}
	return &Orchestrator{
		stages: stages,
		memory: memory,
		bus:    bus,
		cfg:    cfg,
		logger: logger,
		runs:   make(map[string]*run),
	}
}

// RegisterHandlers answers GetRunState queries on bus.
func (o *Orchestrator) RegisterHandlers(bus commbus.CommBus) error {
	return bus.RegisterHandler(commbus.QueryGetRunState, func(ctx context.Context, msg commbus.Message) (any, error) {
		q, ok := msg.(*commbus.GetRunState)
		if !ok {
			return nil, fmt.Errorf("unexpected message %T", msg)
		}
		state, ok := o.RunState(q.RequestID)
		if !ok {
			return nil, fmt.Errorf("unknown run: %s", q.RequestID)
		}
		return state, nil
	})
}

// RevisionBudget returns the revision budget for a request: rich context
// (labeled fields or a long message) gets the smaller budget.
func RevisionBudget(cfg *config.OutreachConfig, raw string) int {
	if agents.HasLabeledFields(raw) || len(raw) >= cfg.RichContextMinChars {
		return cfg.RichContextMaxRevisions
	}
	return cfg.MaxRevisions
}

// Run drives env to a terminal state. Stage degradations are recorded as
// faults on env; the returned error is non-nil only when ctx ended the run
// early or a stage panicked.
func (o *Orchestrator) Run(ctx context.Context, env *envelope.Envelope, opts ...Option) (err error) {
	r := &run{
		env:     env,
		state:   StateRouting,
		edges:   make(map[string]int),
		started: time.Now(),
	}
	r.touched = r.started
	for _, opt := range opts {
		opt(&r.opts)
	}
	r.revision = envelope.RevisionState{Max: RevisionBudget(o.cfg, env.RawInput)}
	env.SetRevision(r.revision, nil)

	o.track(r)
	defer o.untrack(env.RequestID)

	ctx = agents.WithModel(ctx, env.Model)
	ctx, span := tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("outreach.request_id", env.RequestID),
		attribute.String("outreach.session_id", env.SessionID),
		attribute.Int("outreach.revision.max", r.revision.Max),
	))
	defer span.End()

	o.logInfo("pipeline_started", "request_id", env.RequestID, "session_id", env.SessionID, "max_revisions", r.revision.Max)

	defer func() {
		o.finishRun(ctx, r, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "success")
		}
	}()

	for !r.state.Terminal() {
		if cerr := ctx.Err(); cerr != nil {
			env.AddFaults(envelope.NewFault(envelope.ErrorKindTimeout, string(r.state), cerr))
			return fmt.Errorf("run %s stopped in %s: %w", env.RequestID, r.state, cerr)
		}

		state := r.state
		round := r.revision.Count
		faultsBefore := len(env.Faults)
		stageStart := time.Now()
		env.RecordStageStart(string(state), round)
		o.publish(ctx, &commbus.StageStarted{
			RequestID: env.RequestID, SessionID: env.SessionID,
			Stage: string(state), Round: round, Timestamp: stageStart.UTC(),
		})

		event, serr := SafeExecuteWithResult(o.logger, "stage."+string(state), func() (Event, error) {
			return o.step(ctx, r)
		})

		status := "success"
		if serr != nil || len(env.Faults) > faultsBefore {
			status = "degraded"
		}
		env.RecordStageComplete(string(state), status)
		o.publish(ctx, &commbus.StageCompleted{
			RequestID: env.RequestID, SessionID: env.SessionID,
			Stage: string(state), Round: round, Status: status,
			DurationMS: int(time.Since(stageStart).Milliseconds()),
			Faults:     len(env.Faults) - faultsBefore,
		})
		if serr != nil {
			env.AddFaults(envelope.NewFault(envelope.ErrorKindCollaborator, string(state), serr))
			return serr
		}

		next, terr := Transition(state, event)
		if terr != nil {
			return terr
		}
		o.advance(r, state, next)
	}
	return nil
}

// step runs the stage for r.state and returns the event it produced.
func (o *Orchestrator) step(ctx context.Context, r *run) (Event, error) {
	switch r.state {
	case StateRouting:
		return o.route(ctx, r), nil
	case StateDirect:
		return o.reply(ctx, r), nil
	case StateProfiling:
		return o.profile(ctx, r), nil
	case StateStrategizing:
		return o.plan(ctx, r), nil
	case StateDrafting:
		return o.draft(ctx, r), nil
	case StateCritiquing:
		return o.critique(ctx, r), nil
	default:
		return "", fmt.Errorf("%w: no stage for %s", ErrIllegalTransition, r.state)
	}
}

func (o *Orchestrator) route(ctx context.Context, r *run) Event {
	env := r.env
	result := o.stages.Router.Classify(ctx, env.RawInput, env.History)
	env.AddFaults(result.Faults...)

	if result.Decision == envelope.DecisionRefine && len(r.opts.previous) > 0 && !result.ChannelsExplicit {
		result.Channels = r.opts.previous.Channels()
		result.AllChannels = false
	}
	env.SetRoute(result.RouteDecision())

	switch {
	case result.Decision == envelope.DecisionUnclassifiable || result.NeedsClarification(o.cfg.ClarificationThreshold):
		env.SetReply(agents.ClarificationReply)
		env.Terminate(envelope.TerminalReasonClarificationRequired)
		return EventRoutedDirect
	case result.Decision.RunsPipeline():
		return EventRoutedGenerate
	default:
		if result.Reply != "" {
			env.SetReply(result.Reply)
		}
		return EventRoutedDirect
	}
}

func (o *Orchestrator) reply(ctx context.Context, r *run) Event {
	env := r.env
	if env.Reply == "" {
		text, faults := o.stages.Replier.Reply(ctx, env.RawInput, env.History)
		env.AddFaults(faults...)
		env.SetReply(text)
	}
	if !env.Terminated {
		env.Terminate(envelope.TerminalReasonDirectReply)
	}
	return EventReplied
}

func (o *Orchestrator) profile(ctx context.Context, r *run) Event {
	env := r.env
	result := o.stages.Profiler.Extract(ctx, profileSource(env, r.refining()))
	env.AddFaults(result.Faults...)
	if err := env.AttachProfile(result.Profile, result.SupportingContext); err != nil {
		env.AddFaults(envelope.NewFault(envelope.ErrorKindInvalidInput, "profiler", err))
	}
	return EventProfiled
}

func (o *Orchestrator) plan(ctx context.Context, r *run) Event {
	env := r.env
	route := env.Route
	result := o.stages.Strategist.Plan(ctx, env.Profile, route.Channels, route.AllChannels, env.SupportingContext, env.History)
	env.AddFaults(result.Faults...)
	env.SetBrief(result.Brief)

	if o.memory != nil && o.cfg.ExampleLimit > 0 {
		query := env.Profile.Summary() + "\n" + result.Brief.Summary()
		env.SetExamples(o.memory.FindSimilarDrafts(ctx, query, o.cfg.ExampleLimit))
	}
	env.SetRevision(r.revision, result.Brief.RequestedChannels)
	return EventPlanned
}

func (o *Orchestrator) draft(ctx context.Context, r *run) Event {
	env := r.env
	req := agents.WriteRequest{
		Brief:             env.Brief,
		Profile:           env.Profile,
		Prior:             env.Critique,
		Examples:          env.Examples,
		Channels:          env.ChannelsToGenerate,
		Previous:          env.Drafts,
		SupportingContext: env.SupportingContext,
	}
	if env.WriterCalls == 0 && r.refining() {
		req.Previous = r.opts.previous
		req.Prior = &envelope.CritiqueResult{
			Passed:   false,
			Feedback: "The user asked for this change: " + env.RawInput,
		}
	}

	drafts, faults := o.stages.Writer.Draft(ctx, req)
	env.AddFaults(faults...)
	env.ReplaceDrafts(drafts)

	o.publish(ctx, &commbus.DraftsProduced{
		RequestID: env.RequestID, SessionID: env.SessionID,
		Round: r.revision.Count, Drafts: draftStrings(drafts),
	})
	return EventDrafted
}

func (o *Orchestrator) critique(ctx context.Context, r *run) Event {
	env := r.env
	critique, faults := o.stages.Critic.Evaluate(ctx, env.Drafts, env.Profile, env.ChannelsToGenerate)
	env.AddFaults(faults...)
	critique = mergeFrozenScores(env.Critique, critique)
	env.SetCritique(critique)

	o.publish(ctx, &commbus.CritiqueCompleted{
		RequestID: env.RequestID, SessionID: env.SessionID,
		Round: r.revision.Count, OverallScore: critique.OverallScore,
		Scores: scoreStrings(critique.PerChannelScore), Passed: critique.Passed,
		FailedOpen: critique.FailedOpen, Rejected: channelStrings(critique.Rejected),
	})

	event := CritiqueEvent(critique.Passed, r.revision.Count, r.revision.Max)
	switch event {
	case EventCritiquePassed:
		if critique.FailedOpen {
			env.Terminate(envelope.TerminalReasonCriticFailedOpen)
		} else {
			env.Terminate(envelope.TerminalReasonCompletedSuccessfully)
			o.saveWinners(ctx, env)
		}
	case EventBudgetExhausted:
		env.Terminate(envelope.TerminalReasonRevisionBudgetExhausted)
	case EventCritiqueRejected:
		o.nextRound(r)
		env.SetRevision(r.revision, critique.Rejected)
		o.logInfo("revision_started",
			"request_id", env.RequestID,
			"round", r.revision.Count,
			"max", r.revision.Max,
			"channels", strings.Join(channelStrings(critique.Rejected), ","),
		)
		o.publish(ctx, &commbus.RevisionStarted{
			RequestID: env.RequestID, SessionID: env.SessionID,
			Round: r.revision.Count, Max: r.revision.Max,
			Channels: channelStrings(critique.Rejected),
		})
	}
	return event
}

// saveWinners stores accepted drafts as examples for later requests. Each
// channel's embed-and-save runs as its own task.
func (o *Orchestrator) saveWinners(ctx context.Context, env *envelope.Envelope) {
	if o.memory == nil || !o.cfg.SaveWinningDrafts || env.Profile.IsSentinel() {
		return
	}
	limit := o.cfg.MaxParallelChannels
	if limit <= 0 {
		limit = len(envelope.AllChannels)
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, channel := range env.Drafts.Channels() {
		text := env.Drafts[channel]
		g.Go(func() error {
			o.memory.SaveDraftExample(ctx, env.Profile, env.Brief, channel, text)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) finishRun(ctx context.Context, r *run, err error) {
	env := r.env
	reason := "incomplete"
	if env.TerminalReason != nil {
		reason = string(*env.TerminalReason)
	}
	decision := "none"
	if env.Route != nil {
		decision = string(env.Route.Decision)
	}
	durationMS := int(time.Since(r.started).Milliseconds())

	observability.RecordPipelineExecution(decision, reason, durationMS)
	if env.WriterCalls > 0 {
		observability.RecordRevisionRounds(r.revision.Count)
	}
	o.publish(ctx, &commbus.PipelineCompleted{
		RequestID: env.RequestID, SessionID: env.SessionID,
		TerminalReason: reason, WriterCalls: env.WriterCalls,
		Revisions: r.revision.Count, DurationMS: durationMS,
	})
	fields := []any{
		"request_id", env.RequestID,
		"decision", decision,
		"terminal_reason", reason,
		"writer_calls", env.WriterCalls,
		"revisions", r.revision.Count,
		"faults", len(env.Faults),
		"duration_ms", durationMS,
	}
	if err != nil {
		if o.logger != nil {
			o.logger.Warn("pipeline_stopped", append(fields, "state", string(r.state), "error", err.Error())...)
		}
		return
	}
	o.logInfo("pipeline_completed", fields...)
}

// =============================================================================
// Run Registry
// =============================================================================

func (o *Orchestrator) track(r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs[r.env.RequestID] = r
}

func (o *Orchestrator) untrack(requestID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runs, requestID)
}

func (o *Orchestrator) advance(r *run, from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r.edges[string(from)+"->"+string(to)]++
	r.state = to
	r.touched = time.Now()
}

func (o *Orchestrator) nextRound(r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r.revision.Count++
}

// RunState returns the state of an active run.
func (o *Orchestrator) RunState(requestID string) (*RunState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.runs[requestID]
	if !ok {
		return nil, false
	}
	edges := make(map[string]int, len(r.edges))
	for k, v := range r.edges {
		edges[k] = v
	}
	return &RunState{
		RequestID:      r.env.RequestID,
		SessionID:      r.env.SessionID,
		State:          r.state,
		Revision:       r.revision,
		Transitions:    edges,
		StartedAt:      r.started,
		LastActivityAt: r.touched,
	}, true
}

// ActiveRuns returns the number of runs in flight.
func (o *Orchestrator) ActiveRuns() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.runs)
}

// CleanupStaleRuns forgets runs with no transition for staleDuration.
// Runs abandoned by a timed-out caller stop at their next stage boundary;
// this bounds the registry if one never reaches it.
func (o *Orchestrator) CleanupStaleRuns(staleDuration time.Duration) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := time.Now().Add(-staleDuration)
	cleaned := 0
	for id, r := range o.runs {
		if r.touched.Before(cutoff) {
			delete(o.runs, id)
			cleaned++
			o.logDebug("run_cleaned_up", "request_id", id, "state", string(r.state))
		}
	}
	return cleaned
}

// =============================================================================
// Helpers
// =============================================================================

func (r *run) refining() bool {
	return r.env.Route != nil && r.env.Route.Decision == envelope.DecisionRefine && len(r.opts.previous) > 0
}

// profileSource is the text the profiler reads. A refine request carries
// only the change, so earlier user turns supply the prospect facts.
func profileSource(env *envelope.Envelope, refining bool) string {
	if !refining {
		return env.RawInput
	}
	var parts []string
	for _, m := range env.History {
		if m.Role == "user" {
			parts = append(parts, m.Content)
		}
	}
	if len(parts) == 0 {
		return env.RawInput
	}
	return strings.Join(append(parts, env.RawInput), "\n")
}

// mergeFrozenScores carries scores of channels accepted in earlier rounds
// into the latest critique, so the verdict covers every draft.
func mergeFrozenScores(prev, next *envelope.CritiqueResult) *envelope.CritiqueResult {
	if prev == nil || next.FailedOpen || len(prev.PerChannelScore) == 0 {
		return next
	}
	merged := *next
	merged.PerChannelScore = make(map[envelope.ChannelID]int, len(prev.PerChannelScore))
	for c, s := range prev.PerChannelScore {
		merged.PerChannelScore[c] = s
	}
	for c, s := range next.PerChannelScore {
		merged.PerChannelScore[c] = s
	}
	total := 0
	for _, s := range merged.PerChannelScore {
		total += s
	}
	n := len(merged.PerChannelScore)
	merged.OverallScore = (total + n/2) / n
	return &merged
}

func (o *Orchestrator) publish(ctx context.Context, event commbus.Message) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(context.WithoutCancel(ctx), event); err != nil {
		o.logDebug("progress_publish_failed", "event", commbus.GetMessageType(event), "error", err.Error())
	}
}

func (o *Orchestrator) logInfo(msg string, kv ...any) {
	if o.logger != nil {
		o.logger.Info(msg, kv...)
	}
}

func (o *Orchestrator) logDebug(msg string, kv ...any) {
	if o.logger != nil {
		o.logger.Debug(msg, kv...)
	}
}

func draftStrings(d envelope.DraftSet) map[string]string {
	out := make(map[string]string, len(d))
	for c, text := range d {
		out[string(c)] = text
	}
	return out
}

func scoreStrings(scores map[envelope.ChannelID]int) map[string]int {
	out := make(map[string]int, len(scores))
	for c, s := range scores {
		out[string(c)] = s
	}
	return out
}

func channelStrings(channels []envelope.ChannelID) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = string(c)
	}
	return out
}
