package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
)

// WriteRequest is one writer round.
type WriteRequest struct {
	Brief             *envelope.CampaignBrief
	Profile           *envelope.ProspectProfile
	Prior             *envelope.CritiqueResult // nil on the first round
	Examples          []envelope.DraftExample
	Channels          []envelope.ChannelID // channels to regenerate
	Previous          envelope.DraftSet
	SupportingContext string
}

// Writer drafts per-channel messages.
type Writer struct {
	deps Deps
}

// NewWriter creates a Writer.
func NewWriter(deps Deps) *Writer {
	deps = deps.withDefaults()
	deps.Logger = deps.Logger.Bind("agent", "writer")
	return &Writer{deps: deps}
}

// Draft regenerates req.Channels concurrently and returns a copy of
// req.Previous with only those channels replaced. A channel whose call fails
// keeps its previous draft, or gets the template draft when it has none.
func (w *Writer) Draft(ctx context.Context, req WriteRequest) (envelope.DraftSet, []envelope.Fault) {
	ctx, st := beginStage(ctx, "writer", w.deps.Logger,
		attribute.StringSlice("outreach.channels", channelStrings(req.Channels)),
		attribute.Bool("outreach.revision", req.Prior != nil),
	)

	if req.Profile == nil {
		req.Profile = envelope.SentinelProfile("")
	}
	if req.Brief == nil {
		req.Brief = GenericBrief(req.Channels)
	}

	out := req.Previous.Clone()
	var (
		mu     sync.Mutex
		faults []envelope.Fault
	)

	limit := w.deps.Config.MaxParallelChannels
	if limit <= 0 {
		limit = len(envelope.AllChannels)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, channel := range envelope.SortChannels(req.Channels) {
		g.Go(func() error {
			text, err := w.draftChannel(gctx, st, req, channel)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				w.deps.Logger.Warn("writer_channel_failed", "channel", string(channel), "error", err.Error())
				faults = append(faults, envelope.NewFault(envelope.ErrorKindCollaborator, "writer", fmt.Errorf("%s: %w", channel, err)))
				if prev, ok := req.Previous[channel]; ok && prev != "" {
					out[channel] = prev
				} else {
					out[channel] = TemplateDraft(channel, req.Profile, req.Brief)
				}
				return nil
			}
			out[channel] = text
			return nil
		})
	}
	_ = g.Wait()

	st.finish(faults)
	return out, faults
}

func (w *Writer) draftChannel(ctx context.Context, st *stage, req WriteRequest, channel envelope.ChannelID) (string, error) {
	policy := w.deps.Config.PolicyFor(channel)

	raw, err := st.call(ctx, w.deps.LLM, llm.Request{
		Model:       modelFor(ctx, w.deps.Config),
		Shape:       llm.ShapeDraft,
		System:      writerSystemPrompt,
		Messages:    []envelope.Message{{Role: "user", Content: writerPrompt(req, channel, policy)}},
		Temperature: w.deps.Config.Temperature,
		MaxTokens:   600,
	})
	if err != nil {
		return "", err
	}
	text := cleanDraft(raw)
	if text == "" {
		return "", fmt.Errorf("empty draft")
	}
	return policy.Enforce(text, subjectFor(req.Brief, req.Profile), req.Profile.FirstName()), nil
}

// TemplateDraft is the deterministic draft used when generation fails or the
// request times out. It only uses facts already in the profile and brief.
func TemplateDraft(channel envelope.ChannelID, profile *envelope.ProspectProfile, brief *envelope.CampaignBrief) string {
	if profile == nil {
		profile = envelope.SentinelProfile("")
	}
	first := profile.FirstName()

	var hook string
	switch {
	case brief != nil && brief.Hook != "":
		hook = brief.Hook
	case len(profile.RecentActivity) > 0:
		hook = profile.RecentActivity[0]
	case !profile.IsSentinel() && profile.Company != "":
		hook = "what you're building at " + profile.Company
	}

	ask := "Would you be open to a quick 15 minute call next week?"
	if brief != nil && strings.Contains(strings.ToLower(brief.Goal), "call") {
		ask = "Would you be open to a short call next week?"
	}

	var text string
	switch channel {
	case envelope.ChannelEmail:
		opener := "I'm reaching out because I think we could help your team."
		if hook != "" {
			opener = fmt.Sprintf("I came across %s and wanted to reach out.", hook)
		}
		text = fmt.Sprintf("Subject: %s\n\nHi %s,\n\n%s %s\n\nBest regards", subjectFor(brief, profile), first, opener, ask)
	case envelope.ChannelLinkedIn:
		if hook != "" {
			text = fmt.Sprintf("Hi %s, I enjoyed learning about %s. %s", first, hook, ask)
		} else {
			text = fmt.Sprintf("Hi %s, I'd love to connect and learn about your work. %s", first, ask)
		}
	case envelope.ChannelSMS:
		text = fmt.Sprintf("Hi %s, quick note about %s. Open to a short call this week?", first, orDefault(hook, "your team"))
	default:
		text = fmt.Sprintf("Hi %s! I'd love to chat about %s. %s", first, orDefault(hook, "what you're working on"), ask)
	}
	return channel.Policy().Enforce(text, subjectFor(brief, profile), first)
}

func subjectFor(brief *envelope.CampaignBrief, profile *envelope.ProspectProfile) string {
	if brief != nil && brief.Hook != "" {
		return llm.Truncate("About "+brief.Hook, 60)
	}
	if profile != nil && !profile.IsSentinel() && profile.Company != "" {
		return "Quick idea for " + profile.Company
	}
	return "Quick question"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func channelStrings(channels []envelope.ChannelID) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = string(c)
	}
	return out
}
