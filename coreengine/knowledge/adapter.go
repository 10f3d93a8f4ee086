package knowledge

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/logging"
)

// Adapter is the facade the engine talks to. Every store or embedder error is
// logged and turned into an empty result.
type Adapter struct {
	store    Store
	embedder Embedder
	logger   logging.Logger
	now      func() time.Time
}

// NewAdapter creates an Adapter. A nil embedder falls back to HashEmbedder.
func NewAdapter(store Store, embedder Embedder, logger logging.Logger) *Adapter {
	if embedder == nil {
		embedder = NewHashEmbedder()
	}
	return &Adapter{
		store:    store,
		embedder: embedder,
		logger:   logger.Bind("component", "knowledge"),
		now:      time.Now,
	}
}

// Close closes the backing store.
func (a *Adapter) Close() error {
	return a.store.Close()
}

// FindProspect looks up a stored prospect by exact key, then by
// case-insensitive name substring.
func (a *Adapter) FindProspect(ctx context.Context, name, company string) (*envelope.ProspectProfile, bool) {
	if strings.TrimSpace(name) == "" || name == envelope.UnknownProspect {
		return nil, false
	}

	p, err := a.store.GetProspect(ctx, envelope.ProspectKey(name, company))
	switch {
	case err == nil:
		return p, true
	case !errors.Is(err, ErrNotFound):
		a.logger.Warn("knowledge_prospect_lookup_failed", "name", name, "error", err.Error())
		return nil, false
	}

	matches, err := a.store.SearchProspects(ctx, name)
	if err != nil {
		a.logger.Warn("knowledge_prospect_search_failed", "name", name, "error", err.Error())
		return nil, false
	}
	if len(matches) == 0 {
		return nil, false
	}
	return matches[0], true
}

// SaveProspect persists a non-sentinel profile. Failures are logged.
func (a *Adapter) SaveProspect(ctx context.Context, profile *envelope.ProspectProfile) {
	if profile.IsSentinel() {
		return
	}
	if err := a.store.PutProspect(ctx, profile); err != nil {
		a.logger.Warn("knowledge_prospect_save_failed", "key", profile.Key(), "error", err.Error())
	}
}

// SaveDraftExample stores an accepted draft with its embedding so later
// requests can retrieve it.
func (a *Adapter) SaveDraftExample(ctx context.Context, profile *envelope.ProspectProfile, brief *envelope.CampaignBrief, channel envelope.ChannelID, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		a.logger.Warn("knowledge_embed_failed", "channel", string(channel), "error", err.Error())
		return
	}

	metadata := map[string]any{
		"channel":  string(channel),
		"embedder": a.embedder.Name(),
	}
	if profile != nil && !profile.IsSentinel() {
		metadata["prospect"] = profile.Key()
		if profile.Industry != nil {
			metadata["industry"] = *profile.Industry
		}
	}
	if brief != nil {
		metadata["goal"] = brief.Goal
		metadata["tone"] = brief.RecommendedTone
	}

	rec := DraftRecord{
		ID:        uuid.New().String(),
		Channel:   channel,
		Text:      text,
		Metadata:  metadata,
		Embedding: vec,
		CreatedAt: a.now(),
	}
	if err := a.store.AddDraftExample(ctx, rec); err != nil {
		a.logger.Warn("knowledge_draft_save_failed", "channel", string(channel), "error", err.Error())
	}
}

// FindSimilarDrafts returns up to limit stored drafts nearest to query by
// cosine similarity, best first.
func (a *Adapter) FindSimilarDrafts(ctx context.Context, query string, limit int) []envelope.DraftExample {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	records, err := a.store.ListDraftExamples(ctx)
	if err != nil {
		a.logger.Warn("knowledge_draft_list_failed", "error", err.Error())
		return nil
	}
	if len(records) == 0 {
		return nil
	}
	qvec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		a.logger.Warn("knowledge_embed_failed", "error", err.Error())
		return nil
	}

	out := make([]envelope.DraftExample, 0, len(records))
	skipped := 0
	for _, rec := range records {
		score, err := CosineSimilarity(qvec, rec.Embedding)
		if err != nil {
			// Written by a different embedder.
			skipped++
			continue
		}
		out = append(out, envelope.DraftExample{Text: rec.Text, Metadata: rec.Metadata, Score: score})
	}
	if skipped > 0 {
		a.logger.Debug("knowledge_drafts_skipped", "count", skipped)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AppendTranscript appends one turn to the session transcript.
func (a *Adapter) AppendTranscript(ctx context.Context, sessionID, role, content string, drafts envelope.DraftSet) {
	if sessionID == "" {
		return
	}
	turn := Turn{SessionID: sessionID, Role: role, Content: content, Drafts: drafts, CreatedAt: a.now()}
	if err := a.store.AppendTurn(ctx, turn); err != nil {
		a.logger.Warn("knowledge_transcript_append_failed", "session_id", sessionID, "error", err.Error())
	}
}

// Transcript returns the session's turns as conversation history.
func (a *Adapter) Transcript(ctx context.Context, sessionID string) []envelope.Message {
	turns := a.turns(ctx, sessionID)
	out := make([]envelope.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, envelope.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

// LatestDrafts returns the most recent drafts produced in the session.
func (a *Adapter) LatestDrafts(ctx context.Context, sessionID string) (envelope.DraftSet, bool) {
	turns := a.turns(ctx, sessionID)
	for i := len(turns) - 1; i >= 0; i-- {
		if len(turns[i].Drafts) > 0 {
			return turns[i].Drafts.Clone(), true
		}
	}
	return nil, false
}

func (a *Adapter) turns(ctx context.Context, sessionID string) []Turn {
	if sessionID == "" {
		return nil
	}
	turns, err := a.store.Turns(ctx, sessionID)
	if err != nil {
		a.logger.Warn("knowledge_transcript_load_failed", "session_id", sessionID, "error", err.Error())
		return nil
	}
	return turns
}
