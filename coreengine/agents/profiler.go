package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/tools"
	"github.com/jeeves-cluster-organization/outreach/coreengine/typeutil"
)

// maxSourceChars caps the text sent to the extraction call.
const maxSourceChars = 12000

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')]+`)

// labelAliases maps a lowercase field label to its canonical field.
var labelAliases = map[string]string{
	"name":            "name",
	"prospect":        "name",
	"role":            "role",
	"title":           "role",
	"position":        "role",
	"company":         "company",
	"organization":    "company",
	"industry":        "industry",
	"location":        "location",
	"interests":       "interests",
	"recent":          "recent_activity",
	"recent activity": "recent_activity",
	"tone":            "tone",
	"seniority":       "seniority",
}

// ProfileResult is the profiler's output.
type ProfileResult struct {
	Profile           *envelope.ProspectProfile
	SupportingContext string
	FastPath          bool // built from labeled fields without a model call
	Faults            []envelope.Fault
}

// Profiler builds the prospect profile from the request.
type Profiler struct {
	deps Deps
}

// NewProfiler creates a Profiler.
func NewProfiler(deps Deps) *Profiler {
	deps = deps.withDefaults()
	deps.Logger = deps.Logger.Bind("agent", "profiler")
	return &Profiler{deps: deps}
}

// Extract builds a profile from text. Labeled fields with at least a name and
// company skip the model. A URL in the text is scraped first. Thin profiles
// and model-suggested topics trigger concurrent web research. The knowledge
// store fills missing optional fields and receives the final profile.
func (p *Profiler) Extract(ctx context.Context, text string) ProfileResult {
	ctx, st := beginStage(ctx, "profiler", p.deps.Logger, attribute.Int("outreach.input.chars", len(text)))

	var result ProfileResult
	var topics []string

	labeled := ParseLabeledFields(text)
	if labeled.Name != "" && labeled.Company != "" {
		labeled.RawBio = text
		result.Profile = labeled
		result.FastPath = true
	} else {
		pageText, fault := p.scrape(ctx, text)
		if fault != nil {
			result.Faults = append(result.Faults, *fault)
		}
		profile, suggested, fault := p.extract(ctx, st, text, pageText)
		if fault != nil {
			result.Faults = append(result.Faults, *fault)
		}
		if profile == nil {
			profile = labeled
			if profile.Name == "" {
				profile = envelope.SentinelProfile(text)
			}
			profile.RawBio = text
		}
		result.Profile = profile
		topics = suggested
		if pageText != "" {
			result.SupportingContext = "Profile page:\n" + llm.Truncate(pageText, 2000)
		}
	}

	if !result.Profile.IsSentinel() {
		if stored, ok := p.lookup(ctx, result.Profile); ok {
			result.Profile.MergeMissing(stored)
			p.deps.Logger.Debug("profiler_knowledge_merged", "key", result.Profile.Key())
		}
	}

	if len(topics) == 0 && !result.Profile.IsSentinel() && result.Profile.IsThin() && result.Profile.Company != "" {
		topics = []string{
			result.Profile.Company + " news",
			strings.TrimSpace(result.Profile.Name + " " + result.Profile.Company),
		}
	}
	if notes, faults := p.research(ctx, topics); notes != "" || len(faults) > 0 {
		result.Faults = append(result.Faults, faults...)
		if notes != "" {
			if result.SupportingContext != "" {
				result.SupportingContext += "\n\n"
			}
			result.SupportingContext += "Research:\n" + notes
		}
	}

	if p.deps.Knowledge != nil && !result.Profile.IsSentinel() {
		p.deps.Knowledge.SaveProspect(ctx, result.Profile)
	}

	st.span.SetAttributes(
		attribute.Bool("outreach.profile.fast_path", result.FastPath),
		attribute.Bool("outreach.profile.sentinel", result.Profile.IsSentinel()),
	)
	st.finish(result.Faults)
	return result
}

func (p *Profiler) lookup(ctx context.Context, profile *envelope.ProspectProfile) (*envelope.ProspectProfile, bool) {
	if p.deps.Knowledge == nil {
		return nil, false
	}
	return p.deps.Knowledge.FindProspect(ctx, profile.Name, profile.Company)
}

// scrape fetches the first URL in text through the fetch_profile tool.
func (p *Profiler) scrape(ctx context.Context, text string) (string, *envelope.Fault) {
	target := urlPattern.FindString(text)
	if target == "" {
		return "", nil
	}
	target = strings.TrimRight(target, ".,;:")
	if p.deps.Tools == nil {
		f := envelope.NewFault(envelope.ErrorKindCollaborator, "profiler", fmt.Errorf("no scraper configured for %s", target))
		return "", &f
	}
	out, err := p.deps.Tools.Execute(ctx, tools.ToolFetchProfile, map[string]any{"url": target})
	if err != nil {
		p.deps.Logger.Warn("profiler_scrape_failed", "url", target, "error", err.Error())
		f := envelope.NewFault(envelope.ErrorKindCollaborator, "profiler", err)
		return "", &f
	}
	return typeutil.StringDefault(out["text"], ""), nil
}

// extract runs the structured extraction call.
func (p *Profiler) extract(ctx context.Context, st *stage, text, pageText string) (*envelope.ProspectProfile, []string, *envelope.Fault) {
	data, kind, err := st.callJSON(ctx, p.deps.LLM, llm.Request{
		Model:       modelFor(ctx, p.deps.Config),
		Shape:       llm.ShapeProfile,
		System:      profilerSystemPrompt,
		Messages:    []envelope.Message{{Role: "user", Content: llm.Truncate(profilerPrompt(text, pageText), maxSourceChars)}},
		Temperature: 0,
		MaxTokens:   800,
	})
	if err != nil {
		f := envelope.NewFault(kind, "profiler", err)
		return nil, nil, &f
	}

	name := typeutil.StringDefault(typeutil.First(data, "name", "full_name"), "")
	if name == "" {
		return envelope.SentinelProfile(text), nil, nil
	}
	profile := &envelope.ProspectProfile{
		Name:           name,
		Role:           typeutil.StringDefault(typeutil.First(data, "role", "title"), ""),
		Company:        typeutil.StringDefault(typeutil.First(data, "company", "organization"), ""),
		Industry:       typeutil.OptionalString(data["industry"]),
		Location:       typeutil.OptionalString(data["location"]),
		Seniority:      typeutil.OptionalString(data["seniority"]),
		Interests:      typeutil.StringSlice(data["interests"]),
		RecentActivity: typeutil.StringSlice(typeutil.First(data, "recent_activity", "recentActivity")),
		DetectedTone:   typeutil.StringDefault(typeutil.First(data, "detected_tone", "tone"), "professional"),
		RawBio:         text,
	}
	return profile, typeutil.StringSlice(data["research_topics"]), nil
}

// research runs up to MaxResearchQueries web searches concurrently. Each
// query runs under ResearchTimeout; failures become faults.
func (p *Profiler) research(ctx context.Context, topics []string) (string, []envelope.Fault) {
	limit := p.deps.Config.MaxResearchQueries
	if len(topics) == 0 || limit <= 0 || p.deps.Tools == nil {
		return "", nil
	}
	if len(topics) > limit {
		topics = topics[:limit]
	}

	notes := make([]string, len(topics))
	errs := make([]error, len(topics))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, topic := range topics {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, p.deps.Config.ResearchTimeoutDuration())
			defer cancel()
			out, err := p.executeTool(qctx, topic)
			if err != nil {
				errs[i] = err
				return nil
			}
			notes[i] = typeutil.StringDefault(out["text"], "")
			return nil
		})
	}
	_ = g.Wait()

	var b strings.Builder
	var faults []envelope.Fault
	for i, topic := range topics {
		if errs[i] != nil {
			p.deps.Logger.Warn("profiler_research_failed", "query", topic, "error", errs[i].Error())
			faults = append(faults, envelope.NewFault(envelope.ErrorKindCollaborator, "profiler", fmt.Errorf("research %q: %w", topic, errs[i])))
			continue
		}
		if notes[i] != "" {
			fmt.Fprintf(&b, "[%s]\n%s\n", topic, notes[i])
		}
	}
	return strings.TrimSpace(b.String()), faults
}

func (p *Profiler) executeTool(ctx context.Context, query string) (out map[string]any, err error) {
	defer recoverInto(&err, "web_search")
	return p.deps.Tools.Execute(ctx, tools.ToolWebSearch, map[string]any{"query": query})
}

// ParseLabeledFields reads "Label: value" lines. The result has empty Name
// and Company when those labels are missing.
func ParseLabeledFields(text string) *envelope.ProspectProfile {
	profile := &envelope.ProspectProfile{
		Interests:      []string{},
		RecentActivity: []string{},
		DetectedTone:   "professional",
	}
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		field, known := labelAliases[strings.ToLower(strings.TrimSpace(strings.TrimLeft(label, "-* ")))]
		value = strings.TrimSpace(value)
		if !known || value == "" || typeutil.IsAbsent(value) {
			continue
		}
		switch field {
		case "name":
			profile.Name = value
		case "role":
			profile.Role = value
		case "company":
			profile.Company = value
		case "industry":
			profile.Industry = envelope.StringPtr(value)
		case "location":
			profile.Location = envelope.StringPtr(value)
		case "seniority":
			profile.Seniority = envelope.StringPtr(value)
		case "interests":
			profile.Interests = append(profile.Interests, typeutil.StringSlice(value)...)
		case "recent_activity":
			profile.RecentActivity = append(profile.RecentActivity, typeutil.StringSlice(value)...)
		case "tone":
			profile.DetectedTone = strings.ToLower(value)
		}
	}
	return profile
}

// HasLabeledFields reports whether text carries a labeled name and company.
func HasLabeledFields(text string) bool {
	p := ParseLabeledFields(text)
	return p.Name != "" && p.Company != ""
}
