package agents

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/typeutil"
)

// BriefResult is the strategist's output.
type BriefResult struct {
	Brief    *envelope.CampaignBrief
	Fallback bool // built deterministically, without a parsed model answer
	Faults   []envelope.Fault
}

// Strategist plans the campaign.
type Strategist struct {
	deps Deps
}

// NewStrategist creates a Strategist.
func NewStrategist(deps Deps) *Strategist {
	deps = deps.withDefaults()
	deps.Logger = deps.Logger.Bind("agent", "strategist")
	return &Strategist{deps: deps}
}

// Plan produces the campaign brief. The detected channels are authoritative:
// the model's channel list is intersected with them, and an empty
// intersection falls back to the detected list. When every channel was
// requested the detected list is used as is.
func (s *Strategist) Plan(ctx context.Context, profile *envelope.ProspectProfile, detected []envelope.ChannelID, allChannels bool, supportingContext string, conversation []envelope.Message) BriefResult {
	ctx, st := beginStage(ctx, "strategist", s.deps.Logger, attribute.Bool("outreach.profile.sentinel", profile.IsSentinel()))
	result := s.plan(ctx, st, profile, detected, allChannels, supportingContext, conversation)
	st.finish(result.Faults)
	s.deps.Logger.Info("strategist_planned",
		"channels", channelList(result.Brief.RequestedChannels),
		"fallback", result.Fallback,
	)
	return result
}

func (s *Strategist) plan(ctx context.Context, st *stage, profile *envelope.ProspectProfile, detected []envelope.ChannelID, allChannels bool, supportingContext string, conversation []envelope.Message) BriefResult {
	if len(detected) == 0 {
		detected = envelope.DefaultChannels
	}
	detected = envelope.SortChannels(detected)

	if profile.IsSentinel() {
		return BriefResult{Brief: GenericBrief(detected), Fallback: true}
	}

	data, kind, err := st.callJSON(ctx, s.deps.LLM, llm.Request{
		Model:       modelFor(ctx, s.deps.Config),
		Shape:       llm.ShapeBrief,
		System:      strategistSystemPrompt,
		Messages:    userMessages(conversation, strategistPrompt(profile, detected, supportingContext)),
		Temperature: s.deps.Config.Temperature,
		MaxTokens:   800,
	})
	if err != nil {
		return BriefResult{
			Brief:    ProfileBrief(profile, detected),
			Fallback: true,
			Faults:   []envelope.Fault{envelope.NewFault(kind, "strategist", err)},
		}
	}

	brief := &envelope.CampaignBrief{
		Goal:             typeutil.StringDefault(data["goal"], "start a conversation"),
		Hook:             typeutil.StringDefault(data["hook"], ""),
		PainPoint:        typeutil.StringDefault(typeutil.First(data, "pain_point", "painPoint"), ""),
		ValueProposition: typeutil.StringDefault(typeutil.First(data, "value_proposition", "valueProposition"), ""),
		RecommendedTone:  typeutil.StringDefault(typeutil.First(data, "recommended_tone", "tone"), profile.DetectedTone),
		KeyPoints:        typeutil.StringSlice(typeutil.First(data, "key_points", "keyPoints")),
	}

	if allChannels {
		brief.RequestedChannels = detected
		return BriefResult{Brief: brief}
	}
	var planned []envelope.ChannelID
	for _, name := range typeutil.StringSlice(typeutil.First(data, "requested_channels", "channels")) {
		if c, err := envelope.ParseChannel(name); err == nil {
			planned = append(planned, c)
		}
	}
	brief.RequestedChannels = envelope.IntersectChannels(planned, detected)
	if len(brief.RequestedChannels) == 0 {
		brief.RequestedChannels = detected
	}
	return BriefResult{Brief: brief}
}

// GenericBrief is the minimal brief for a prospect with no usable facts.
func GenericBrief(channels []envelope.ChannelID) *envelope.CampaignBrief {
	return &envelope.CampaignBrief{
		RequestedChannels: append([]envelope.ChannelID(nil), channels...),
		Goal:              "start a conversation",
		RecommendedTone:   "professional",
		KeyPoints:         []string{"introduce yourself briefly", "ask one open question"},
	}
}

// ProfileBrief builds a brief from profile facts alone.
func ProfileBrief(profile *envelope.ProspectProfile, channels []envelope.ChannelID) *envelope.CampaignBrief {
	brief := GenericBrief(channels)
	brief.Goal = "book a short intro call"
	if profile.DetectedTone != "" {
		brief.RecommendedTone = profile.DetectedTone
	}
	switch {
	case len(profile.RecentActivity) > 0:
		brief.Hook = profile.RecentActivity[0]
	case len(profile.Interests) > 0:
		brief.Hook = profile.Interests[0]
	case profile.Role != "" && profile.Company != "":
		brief.Hook = fmt.Sprintf("your work as %s at %s", profile.Role, profile.Company)
	}
	if len(profile.Interests) > 0 {
		brief.ValueProposition = "help with " + profile.Interests[0]
	}
	brief.KeyPoints = []string{"reference one specific fact", "one clear ask"}
	return brief
}
