package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
)

// SQLiteStore persists knowledge in a single SQLite file.
type SQLiteStore struct {
	DBPath string
	db     *sql.DB
}

// OpenSQLite opens or creates the knowledge database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve knowledge db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure knowledge db dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open knowledge db: %w", err)
	}
	// One writer at a time; modernc serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{DBPath: absPath, db: db}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS prospects (
	key TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	name_lower TEXT NOT NULL,
	profile_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prospects_name ON prospects(name_lower);

CREATE TABLE IF NOT EXISTS draft_examples (
	id TEXT PRIMARY KEY,
	channel TEXT NOT NULL,
	text TEXT NOT NULL,
	metadata_json TEXT,
	embedding_json TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transcripts (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	drafts_json TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id, seq);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create knowledge schema: %w", err)
	}
	return nil
}

// GetProspect returns the prospect stored under key.
func (s *SQLiteStore) GetProspect(ctx context.Context, key string) (*envelope.ProspectProfile, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT profile_json FROM prospects WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prospect: %w", err)
	}
	return decodeProfile(raw)
}

// SearchProspects returns prospects whose name contains name, case-insensitively.
func (s *SQLiteStore) SearchProspects(ctx context.Context, name string) ([]*envelope.ProspectProfile, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT profile_json FROM prospects WHERE instr(name_lower, ?) > 0 ORDER BY key`, needle)
	if err != nil {
		return nil, fmt.Errorf("search prospects: %w", err)
	}
	defer rows.Close()

	var out []*envelope.ProspectProfile
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan prospect: %w", err)
		}
		p, err := decodeProfile(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PutProspect upserts a prospect by key.
func (s *SQLiteStore) PutProspect(ctx context.Context, profile *envelope.ProspectProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode prospect: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO prospects (key, name, name_lower, profile_json, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	name = excluded.name,
	name_lower = excluded.name_lower,
	profile_json = excluded.profile_json,
	updated_at = excluded.updated_at`,
		profile.Key(), profile.Name, strings.ToLower(profile.Name), string(data), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("put prospect: %w", err)
	}
	return nil
}

// AddDraftExample inserts a draft example.
func (s *SQLiteStore) AddDraftExample(ctx context.Context, rec DraftRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode draft metadata: %w", err)
	}
	embedding, err := json.Marshal(rec.Embedding)
	if err != nil {
		return fmt.Errorf("encode draft embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO draft_examples (id, channel, text, metadata_json, embedding_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Channel), rec.Text, string(metadata), string(embedding), formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("add draft example: %w", err)
	}
	return nil
}

// ListDraftExamples returns every stored example in insertion order.
func (s *SQLiteStore) ListDraftExamples(ctx context.Context) ([]DraftRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, channel, text, metadata_json, embedding_json, created_at
FROM draft_examples ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list draft examples: %w", err)
	}
	defer rows.Close()

	var out []DraftRecord
	for rows.Next() {
		var (
			rec                     DraftRecord
			channel, created        string
			metadataRaw, vectorsRaw sql.NullString
		)
		if err := rows.Scan(&rec.ID, &channel, &rec.Text, &metadataRaw, &vectorsRaw, &created); err != nil {
			return nil, fmt.Errorf("scan draft example: %w", err)
		}
		rec.Channel = envelope.ChannelID(channel)
		rec.CreatedAt = parseTime(created)
		if metadataRaw.Valid && metadataRaw.String != "" {
			if err := json.Unmarshal([]byte(metadataRaw.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode draft metadata: %w", err)
			}
		}
		if vectorsRaw.Valid && vectorsRaw.String != "" {
			if err := json.Unmarshal([]byte(vectorsRaw.String), &rec.Embedding); err != nil {
				return nil, fmt.Errorf("decode draft embedding: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendTurn appends a transcript turn.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	var drafts sql.NullString
	if turn.Drafts != nil {
		data, err := json.Marshal(turn.Drafts)
		if err != nil {
			return fmt.Errorf("encode transcript drafts: %w", err)
		}
		drafts = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO transcripts (session_id, role, content, drafts_json, created_at)
VALUES (?, ?, ?, ?, ?)`,
		turn.SessionID, turn.Role, turn.Content, drafts, formatTime(turn.CreatedAt))
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// Turns returns a session's transcript in append order.
func (s *SQLiteStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT role, content, drafts_json, created_at
FROM transcripts WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			turn    = Turn{SessionID: sessionID}
			drafts  sql.NullString
			created string
		)
		if err := rows.Scan(&turn.Role, &turn.Content, &drafts, &created); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		turn.CreatedAt = parseTime(created)
		if drafts.Valid && drafts.String != "" {
			if err := json.Unmarshal([]byte(drafts.String), &turn.Drafts); err != nil {
				return nil, fmt.Errorf("decode transcript drafts: %w", err)
			}
		}
		out = append(out, turn)
	}
	return out, rows.Err()
}

func decodeProfile(raw string) (*envelope.ProspectProfile, error) {
	var p envelope.ProspectProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode prospect: %w", err)
	}
	return &p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
