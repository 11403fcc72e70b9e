// Package store is the relational message store: sources, the append-only
// message log, contacts and the aggregate queries served to the dashboard.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Napageneral/memsync/internal/normalize"
)

// InsertOutcome tells a new row apart from a natural-key duplicate.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	Duplicate
)

func (o InsertOutcome) String() string {
	if o == Inserted {
		return "inserted"
	}
	return "duplicate"
}

// Message is the canonical record written by every adapter.
type Message struct {
	SourceID  int64
	Content   string
	Sender    string
	Recipient string
	Timestamp time.Time
	Metadata  map[string]any
}

// StoredMessage is a message row joined with its source name.
type StoredMessage struct {
	ID        int64          `json:"id"`
	Source    string         `json:"source"`
	Content   string         `json:"content"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

type SourceStats struct {
	Source   string    `json:"source"`
	Count    int64     `json:"count"`
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

type Stats struct {
	Sources []SourceStats `json:"sources"`
	Total   int64         `json:"total"`
}

type Contact struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	Aliases       []string       `json:"aliases"`
	Relationships map[string]any `json:"relationships"`
	Metadata      map[string]any `json:"metadata"`
}

// MessageFilter narrows SearchMessages. Text filters are substring matches.
type MessageFilter struct {
	Search    string
	Source    string
	Sender    string
	Recipient string
	Limit     int
	Offset    int
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// GetSourceID returns the id for name, creating the source on first use.
// The insert is conflict-tolerant so concurrent first use resolves to one row.
func (s *Store) GetSourceID(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("source name is required")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (name, created_at) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, time.Now().Unix()); err != nil {
		return 0, fmt.Errorf("failed to upsert source %s: %w", name, err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM sources WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to resolve source %s: %w", name, err)
	}
	return id, nil
}

// ContentHash is the natural-key digest of already truncated content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// InsertMessage truncates content and appends the message. A natural-key
// collision is reported as Duplicate with a nil error; any other failure is
// returned as an error.
func (s *Store) InsertMessage(ctx context.Context, m Message) (InsertOutcome, error) {
	content := normalize.Truncate(m.Content, normalize.MaxContentLength)
	metadata := m.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return Duplicate, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (source_id, content, content_hash, sender, recipient, timestamp, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, content_hash, sender, recipient, timestamp) DO NOTHING
	`, m.SourceID, content, ContentHash(content), m.Sender, m.Recipient,
		m.Timestamp.UTC().UnixMilli(), string(metaJSON), time.Now().Unix())
	if err != nil {
		return Duplicate, fmt.Errorf("failed to insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Duplicate, fmt.Errorf("failed to read insert result: %w", err)
	}
	if n == 0 {
		return Duplicate, nil
	}
	return Inserted, nil
}

// Stats returns per-source counts and time bounds plus the overall total.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	out := Stats{Sources: []SourceStats{}}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.name, COUNT(*), MIN(m.timestamp), MAX(m.timestamp)
		FROM messages m
		JOIN sources s ON m.source_id = s.id
		GROUP BY s.name
		ORDER BY COUNT(*) DESC, s.name ASC
	`)
	if err != nil {
		return out, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st SourceStats
		var earliest, latest int64
		if err := rows.Scan(&st.Source, &st.Count, &earliest, &latest); err != nil {
			return out, fmt.Errorf("failed to scan stats row: %w", err)
		}
		st.Earliest = time.UnixMilli(earliest).UTC()
		st.Latest = time.UnixMilli(latest).UTC()
		out.Sources = append(out.Sources, st)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("failed iterating stats rows: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&out.Total); err != nil {
		return out, fmt.Errorf("failed to count messages: %w", err)
	}
	return out, nil
}

// SearchMessages lists messages newest first.
func (s *Store) SearchMessages(ctx context.Context, f MessageFilter) ([]StoredMessage, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	query := `
		SELECT m.id, s.name, m.content, m.sender, m.recipient, m.timestamp, m.metadata_json
		FROM messages m
		JOIN sources s ON m.source_id = s.id
		WHERE 1=1`
	var args []any
	if f.Search != "" {
		query += ` AND m.content LIKE ?`
		args = append(args, "%"+f.Search+"%")
	}
	if f.Source != "" {
		query += ` AND s.name = ?`
		args = append(args, f.Source)
	}
	if f.Sender != "" {
		query += ` AND m.sender LIKE ?`
		args = append(args, "%"+f.Sender+"%")
	}
	if f.Recipient != "" {
		query += ` AND m.recipient LIKE ?`
		args = append(args, "%"+f.Recipient+"%")
	}
	query += ` ORDER BY m.timestamp DESC, m.id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	out := []StoredMessage{}
	for rows.Next() {
		var m StoredMessage
		var ts int64
		var metaJSON string
		if err := rows.Scan(&m.ID, &m.Source, &m.Content, &m.Sender, &m.Recipient, &ts, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		m.Metadata = decodeObject(metaJSON)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating message rows: %w", err)
	}
	return out, nil
}

// ListContacts returns contacts whose name or aliases contain search.
func (s *Store) ListContacts(ctx context.Context, search string) ([]Contact, error) {
	query := `SELECT id, name, aliases_json, relationships_json, metadata_json FROM contacts`
	var args []any
	if search != "" {
		query += ` WHERE name LIKE ? OR aliases_json LIKE ?`
		args = append(args, "%"+search+"%", "%"+search+"%")
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	out := []Contact{}
	for rows.Next() {
		var c Contact
		var aliases, relationships, metadata string
		if err := rows.Scan(&c.ID, &c.Name, &aliases, &relationships, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan contact row: %w", err)
		}
		if err := json.Unmarshal([]byte(aliases), &c.Aliases); err != nil || c.Aliases == nil {
			c.Aliases = []string{}
		}
		c.Relationships = decodeObject(relationships)
		c.Metadata = decodeObject(metadata)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating contact rows: %w", err)
	}
	return out, nil
}

// LastTimestamp is the newest stored timestamp for a channel of source,
// matched on the channelId metadata key. ok is false when nothing is stored.
func (s *Store) LastTimestamp(ctx context.Context, source string, channelID string) (t time.Time, ok bool, err error) {
	var ts sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT MAX(m.timestamp)
		FROM messages m
		JOIN sources s ON m.source_id = s.id
		WHERE s.name = ? AND json_extract(m.metadata_json, '$.channelId') = ?
	`, source, channelID).Scan(&ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last timestamp: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), true, nil
}

// LastMetadataValue returns the numerically largest value of metadata key
// for a channel of source, as stored.
func (s *Store) LastMetadataValue(ctx context.Context, source string, channelID string, key string) (string, bool, error) {
	path := "$." + key
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT CAST(json_extract(m.metadata_json, ?) AS TEXT)
		FROM messages m
		JOIN sources s ON m.source_id = s.id
		WHERE s.name = ?
			AND json_extract(m.metadata_json, '$.channelId') = ?
			AND json_extract(m.metadata_json, ?) IS NOT NULL
		ORDER BY CAST(json_extract(m.metadata_json, ?) AS REAL) DESC
		LIMIT 1
	`, path, source, channelID, path, path).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query last %s: %w", key, err)
	}
	return v.String, v.Valid, nil
}

// AddContact inserts a contact. Contact population lives outside the sync
// core; this exists for imports of address books and for tests.
func (s *Store) AddContact(ctx context.Context, c Contact) (int64, error) {
	aliases, _ := json.Marshal(nonNilStrings(c.Aliases))
	relationships, _ := json.Marshal(nonNilMap(c.Relationships))
	metadata, _ := json.Marshal(nonNilMap(c.Metadata))
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (name, aliases_json, relationships_json, metadata_json)
		VALUES (?, ?, ?, ?)
	`, c.Name, string(aliases), string(relationships), string(metadata))
	if err != nil {
		return 0, fmt.Errorf("failed to insert contact: %w", err)
	}
	return res.LastInsertId()
}

func decodeObject(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilMap(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}
