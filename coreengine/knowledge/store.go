// Package knowledge persists prospects, accepted draft examples, and session
// transcripts, and retrieves similar drafts by embedding similarity.
//
// Store implementations return errors; the Adapter in front of them logs
// every error and converts it to an empty result so a storage outage never
// fails a request.
package knowledge

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
)

// ErrNotFound is returned by Store lookups that match nothing.
var ErrNotFound = errors.New("knowledge: not found")

// DraftRecord is one stored draft example with its embedding.
type DraftRecord struct {
	ID        string
	Channel   envelope.ChannelID
	Text      string
	Metadata  map[string]any
	Embedding []float32
	CreatedAt time.Time
}

// Turn is one transcript entry. Drafts is set on assistant turns that
// produced channel content.
type Turn struct {
	SessionID string
	Role      string
	Content   string
	Drafts    envelope.DraftSet
	CreatedAt time.Time
}

// Store is the persistence contract behind the Adapter.
type Store interface {
	GetProspect(ctx context.Context, key string) (*envelope.ProspectProfile, error)
	SearchProspects(ctx context.Context, name string) ([]*envelope.ProspectProfile, error)
	PutProspect(ctx context.Context, profile *envelope.ProspectProfile) error

	AddDraftExample(ctx context.Context, rec DraftRecord) error
	ListDraftExamples(ctx context.Context) ([]DraftRecord, error)

	AppendTurn(ctx context.Context, turn Turn) error
	Turns(ctx context.Context, sessionID string) ([]Turn, error)

	Close() error
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore is an in-process Store used when no database path is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	prospects map[string]*envelope.ProspectProfile
	drafts    []DraftRecord
	turns     map[string][]Turn
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prospects: make(map[string]*envelope.ProspectProfile),
		turns:     make(map[string][]Turn),
	}
}

// GetProspect returns the prospect stored under key.
func (m *MemoryStore) GetProspect(ctx context.Context, key string) (*envelope.ProspectProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prospects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// SearchProspects returns prospects whose name contains name, case-insensitively,
// ordered by key.
func (m *MemoryStore) SearchProspects(ctx context.Context, name string) ([]*envelope.ProspectProfile, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.prospects))
	for k, p := range m.prospects {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]*envelope.ProspectProfile, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.prospects[k].Clone())
	}
	return out, nil
}

// PutProspect upserts a prospect by key.
func (m *MemoryStore) PutProspect(ctx context.Context, profile *envelope.ProspectProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prospects[profile.Key()] = profile.Clone()
	return nil
}

// AddDraftExample appends a draft example.
func (m *MemoryStore) AddDraftExample(ctx context.Context, rec DraftRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Embedding = append([]float32(nil), rec.Embedding...)
	m.drafts = append(m.drafts, rec)
	return nil
}

// ListDraftExamples returns every stored example in insertion order.
func (m *MemoryStore) ListDraftExamples(ctx context.Context) ([]DraftRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]DraftRecord(nil), m.drafts...), nil
}

// AppendTurn appends a transcript turn to its session.
func (m *MemoryStore) AppendTurn(ctx context.Context, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if turn.Drafts != nil {
		turn.Drafts = turn.Drafts.Clone()
	}
	m.turns[turn.SessionID] = append(m.turns[turn.SessionID], turn)
	return nil
}

// Turns returns a session's transcript in append order.
func (m *MemoryStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Turn(nil), m.turns[sessionID]...), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
