package envelope

import (
	"fmt"
	"strings"
)

// UnknownProspect is the sentinel name for a profile with no usable facts.
const UnknownProspect = "Unknown Prospect"

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ProspectProfile is the structured record of the person being contacted.
type ProspectProfile struct {
	Name           string   `json:"name"`
	Role           string   `json:"role"`
	Company        string   `json:"company"`
	Industry       *string  `json:"industry,omitempty"`
	Location       *string  `json:"location,omitempty"`
	Interests      []string `json:"interests"`
	RecentActivity []string `json:"recent_activity"`
	DetectedTone   string   `json:"detected_tone"`
	RawBio         string   `json:"raw_bio"`
	Seniority      *string  `json:"seniority,omitempty"`
}

// SentinelProfile returns the placeholder profile used when extraction yields nothing.
func SentinelProfile(rawBio string) *ProspectProfile {
	return &ProspectProfile{
		Name:           UnknownProspect,
		Interests:      []string{},
		RecentActivity: []string{},
		DetectedTone:   "professional",
		RawBio:         rawBio,
	}
}

// IsSentinel reports whether the profile lacks enough grounding to personalize.
func (p *ProspectProfile) IsSentinel() bool {
	return p == nil || strings.TrimSpace(p.Name) == "" || p.Name == UnknownProspect
}

// Key returns the persistence key: name + "_" + company.
func (p *ProspectProfile) Key() string {
	return ProspectKey(p.Name, p.Company)
}

// ProspectKey builds the persistence key for a name and company.
func ProspectKey(name, company string) string {
	return strings.TrimSpace(name) + "_" + strings.TrimSpace(company)
}

// IsThin reports whether the profile has no interests and no recent activity.
func (p *ProspectProfile) IsThin() bool {
	return len(p.Interests) == 0 && len(p.RecentActivity) == 0
}

// FirstName returns the first token of the name, or "there" for the sentinel.
func (p *ProspectProfile) FirstName() string {
	if p.IsSentinel() {
		return "there"
	}
	return strings.Fields(p.Name)[0]
}

// Clone returns a deep copy.
func (p *ProspectProfile) Clone() *ProspectProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Interests = append([]string(nil), p.Interests...)
	c.RecentActivity = append([]string(nil), p.RecentActivity...)
	c.Industry = cloneStringPtr(p.Industry)
	c.Location = cloneStringPtr(p.Location)
	c.Seniority = cloneStringPtr(p.Seniority)
	return &c
}

// MergeMissing fills empty optional fields from another record of the same prospect.
func (p *ProspectProfile) MergeMissing(stored *ProspectProfile) {
	if stored == nil {
		return
	}
	if p.Role == "" {
		p.Role = stored.Role
	}
	if p.Industry == nil {
		p.Industry = cloneStringPtr(stored.Industry)
	}
	if p.Location == nil {
		p.Location = cloneStringPtr(stored.Location)
	}
	if p.Seniority == nil {
		p.Seniority = cloneStringPtr(stored.Seniority)
	}
	if len(p.Interests) == 0 {
		p.Interests = append([]string(nil), stored.Interests...)
	}
	if len(p.RecentActivity) == 0 {
		p.RecentActivity = append([]string(nil), stored.RecentActivity...)
	}
}

// Summary renders the profile as compact prompt context.
func (p *ProspectProfile) Summary() string {
	if p.IsSentinel() {
		return "Prospect: unknown (no reliable facts available)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", p.Name)
	if p.Role != "" {
		fmt.Fprintf(&b, "Role: %s\n", p.Role)
	}
	if p.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", p.Company)
	}
	if p.Industry != nil {
		fmt.Fprintf(&b, "Industry: %s\n", *p.Industry)
	}
	if p.Location != nil {
		fmt.Fprintf(&b, "Location: %s\n", *p.Location)
	}
	if p.Seniority != nil {
		fmt.Fprintf(&b, "Seniority: %s\n", *p.Seniority)
	}
	if len(p.Interests) > 0 {
		fmt.Fprintf(&b, "Interests: %s\n", strings.Join(p.Interests, "; "))
	}
	if len(p.RecentActivity) > 0 {
		fmt.Fprintf(&b, "Recent activity: %s\n", strings.Join(p.RecentActivity, "; "))
	}
	if p.DetectedTone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", p.DetectedTone)
	}
	return strings.TrimRight(b.String(), "\n")
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// CampaignBrief is the strategist's plan for the outreach.
type CampaignBrief struct {
	RequestedChannels []ChannelID `json:"requested_channels"`
	Goal              string      `json:"goal"`
	Hook              string      `json:"hook"`
	PainPoint         string      `json:"pain_point"`
	ValueProposition  string      `json:"value_proposition"`
	RecommendedTone   string      `json:"recommended_tone"`
	KeyPoints         []string    `json:"key_points"`
}

// Summary renders the brief as compact prompt context.
func (b *CampaignBrief) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Goal: %s\n", b.Goal)
	if b.Hook != "" {
		fmt.Fprintf(&sb, "Hook: %s\n", b.Hook)
	}
	if b.PainPoint != "" {
		fmt.Fprintf(&sb, "Pain point: %s\n", b.PainPoint)
	}
	if b.ValueProposition != "" {
		fmt.Fprintf(&sb, "Value proposition: %s\n", b.ValueProposition)
	}
	if b.RecommendedTone != "" {
		fmt.Fprintf(&sb, "Tone: %s\n", b.RecommendedTone)
	}
	for _, kp := range b.KeyPoints {
		fmt.Fprintf(&sb, "- %s\n", kp)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// DraftSet maps each channel to its current draft text.
type DraftSet map[ChannelID]string

// Clone returns a shallow copy safe to mutate.
func (d DraftSet) Clone() DraftSet {
	c := make(DraftSet, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// Channels returns the channels present, canonically ordered.
func (d DraftSet) Channels() []ChannelID {
	channels := make([]ChannelID, 0, len(d))
	for c := range d {
		channels = append(channels, c)
	}
	return SortChannels(channels)
}

// DraftExample is a previously accepted draft retrieved for style grounding.
type DraftExample struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// CritiqueResult is the critic's verdict over a round of drafts.
type CritiqueResult struct {
	OverallScore    int                  `json:"overall_score"`
	PerChannelScore map[ChannelID]int    `json:"per_channel_score"`
	Passed          bool                 `json:"passed"`
	Feedback        string               `json:"feedback"`
	ChannelFeedback map[ChannelID]string `json:"channel_feedback,omitempty"`
	Additions       []string             `json:"additions"`
	Removals        []string             `json:"removals"`
	Rejected        []ChannelID          `json:"rejected"`
	FailedOpen      bool                 `json:"failed_open"`
}

// Verdict returns the acceptance decision for a channel.
func (c *CritiqueResult) Verdict(channel ChannelID) ChannelVerdict {
	for _, r := range c.Rejected {
		if r == channel {
			return ChannelVerdictRejected
		}
	}
	return ChannelVerdictAccepted
}

// FailOpenCritique is the accepting result used when the evaluator fails.
func FailOpenCritique(reason string) *CritiqueResult {
	return &CritiqueResult{
		OverallScore:    0,
		PerChannelScore: map[ChannelID]int{},
		Passed:          true,
		Feedback:        reason,
		Additions:       []string{},
		Removals:        []string{},
		Rejected:        []ChannelID{},
		FailedOpen:      true,
	}
}

// RevisionState tracks the writer/critic retry budget.
type RevisionState struct {
	Count int `json:"revision_count"`
	Max   int `json:"max_revisions"`
}

// Exhausted reports whether no revision round remains.
func (r RevisionState) Exhausted() bool {
	return r.Count >= r.Max
}

// Fault is a recovered, non-fatal failure recorded on the envelope.
type Fault struct {
	Kind    ErrorKind `json:"kind"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
}

// NewFault builds a fault from an error.
func NewFault(kind ErrorKind, stage string, err error) Fault {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Fault{Kind: kind, Stage: stage, Message: msg}
}

func (f Fault) Error() string {
	return fmt.Sprintf("%s fault in %s: %s", f.Kind, f.Stage, f.Message)
}

// FaultCounts groups faults by kind.
func FaultCounts(faults []Fault) map[string]int {
	counts := make(map[string]int)
	for _, f := range faults {
		counts[string(f.Kind)]++
	}
	return counts
}
