package agents

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/observability"
	"github.com/jeeves-cluster-organization/outreach/coreengine/typeutil"
)

// channelCritique is one channel's evaluation.
type channelCritique struct {
	channel   envelope.ChannelID
	score     int
	feedback  string
	additions []string
	removals  []string
}

// Critic scores drafts against the rubric.
type Critic struct {
	deps Deps
}

// NewCritic creates a Critic.
func NewCritic(deps Deps) *Critic {
	deps = deps.withDefaults()
	deps.Logger = deps.Logger.Bind("agent", "critic")
	return &Critic{deps: deps}
}

// Evaluate scores each of channels concurrently. A channel passes at
// AcceptanceThreshold; the result passes only if every evaluated channel
// does. Any evaluator failure fails open: the result is accepted with
// FailedOpen set and a critic fault is returned.
func (c *Critic) Evaluate(ctx context.Context, drafts envelope.DraftSet, profile *envelope.ProspectProfile, channels []envelope.ChannelID) (*envelope.CritiqueResult, []envelope.Fault) {
	channels = envelope.SortChannels(channels)
	ctx, st := beginStage(ctx, "critic", c.deps.Logger, attribute.StringSlice("outreach.channels", channelStrings(channels)))
	if profile == nil {
		profile = envelope.SentinelProfile("")
	}

	results := make([]channelCritique, len(channels))
	limit := c.deps.Config.MaxParallelChannels
	if limit <= 0 {
		limit = len(envelope.AllChannels)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, channel := range channels {
		g.Go(func() error {
			res, err := c.evaluateChannel(gctx, st, profile, channel, drafts[channel])
			if err != nil {
				return fmt.Errorf("%s: %w", channel, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.deps.Logger.Warn("critic_failed_open", "error", err.Error())
		faults := []envelope.Fault{envelope.NewFault(envelope.ErrorKindCritic, "critic", err)}
		st.finish(faults)
		return envelope.FailOpenCritique("critic unavailable: " + err.Error()), faults
	}

	critique := c.aggregate(results)
	st.span.SetAttributes(
		attribute.Int("outreach.critique.overall_score", critique.OverallScore),
		attribute.Bool("outreach.critique.passed", critique.Passed),
	)
	st.finish(nil)
	c.deps.Logger.Info("critic_evaluated",
		"overall_score", critique.OverallScore,
		"passed", critique.Passed,
		"rejected", channelList(critique.Rejected),
	)
	return critique, nil
}

func (c *Critic) evaluateChannel(ctx context.Context, st *stage, profile *envelope.ProspectProfile, channel envelope.ChannelID, draft string) (channelCritique, error) {
	if strings.TrimSpace(draft) == "" {
		return channelCritique{}, fmt.Errorf("no draft to evaluate")
	}
	policy := c.deps.Config.PolicyFor(channel)
	data, _, err := st.callJSON(ctx, c.deps.LLM, llm.Request{
		Model:       modelFor(ctx, c.deps.Config),
		Shape:       llm.ShapeCritique,
		System:      criticSystemPrompt,
		Messages:    []envelope.Message{{Role: "user", Content: criticPrompt(profile, channel, policy, draft)}},
		Temperature: 0,
		MaxTokens:   400,
	})
	if err != nil {
		return channelCritique{}, err
	}
	score, ok := typeutil.Score(typeutil.First(data, "score", "overall_score"))
	if !ok {
		return channelCritique{}, fmt.Errorf("critique has no score")
	}
	return channelCritique{
		channel:   channel,
		score:     score,
		feedback:  typeutil.StringDefault(data["feedback"], ""),
		additions: typeutil.StringSlice(data["additions"]),
		removals:  typeutil.StringSlice(data["removals"]),
	}, nil
}

// aggregate folds per-channel results. Additions and removals come from the
// rejected channels only, since only those are rewritten.
func (c *Critic) aggregate(results []channelCritique) *envelope.CritiqueResult {
	out := &envelope.CritiqueResult{
		PerChannelScore: make(map[envelope.ChannelID]int, len(results)),
		ChannelFeedback: make(map[envelope.ChannelID]string, len(results)),
		Additions:       []string{},
		Removals:        []string{},
		Rejected:        []envelope.ChannelID{},
		Passed:          true,
	}
	threshold := c.deps.Config.AcceptanceThreshold

	total := 0
	var feedback []string
	seenAdd := map[string]bool{}
	seenRem := map[string]bool{}
	for _, r := range results {
		observability.RecordCritiqueScore(string(r.channel), r.score)
		out.PerChannelScore[r.channel] = r.score
		total += r.score
		if r.feedback != "" {
			out.ChannelFeedback[r.channel] = r.feedback
			feedback = append(feedback, fmt.Sprintf("[%s] %s", r.channel, r.feedback))
		}
		if r.score >= threshold {
			continue
		}
		out.Passed = false
		out.Rejected = append(out.Rejected, r.channel)
		for _, a := range r.additions {
			if !seenAdd[a] {
				seenAdd[a] = true
				out.Additions = append(out.Additions, a)
			}
		}
		for _, rm := range r.removals {
			if !seenRem[rm] {
				seenRem[rm] = true
				out.Removals = append(out.Removals, rm)
			}
		}
	}
	if len(results) > 0 {
		out.OverallScore = (total + len(results)/2) / len(results)
	}
	out.Feedback = strings.Join(feedback, "\n")
	return out
}
