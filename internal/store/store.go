// Package store persists one row per proxied LLM interaction.
//
// DESIGN: Three tables, bootstrapped at startup:
//   - chatgpt_logs:        every chat exchange, linked into conversations
//     by root_gpt_id
//   - meta_summarizer_log: derived metadata calls, linked back to the
//     summarized chat row
//   - image_logs:          image-generation calls with computed cost
//
// All mutations commit synchronously before the call returns. UNIQUE(id,
// user_name) is the authoritative duplicate guard; the allocator's
// existence check is only a pre-insert diagnostic.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/auditgate/llm-gateway/internal/config"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: no matching row")

const schema = `
CREATE TABLE IF NOT EXISTS chatgpt_logs (
	id            TEXT NOT NULL,
	request       TEXT,
	response      TEXT,
	usage_info    TEXT,
	user_name     TEXT NOT NULL,
	title         TEXT,
	response_time TIMESTAMP NOT NULL,
	convo_title   TEXT,
	convo_show    BOOLEAN NOT NULL DEFAULT 1,
	root_gpt_id   TEXT,
	PRIMARY KEY (id, user_name)
);
CREATE INDEX IF NOT EXISTS idx_chatgpt_logs_root
	ON chatgpt_logs (root_gpt_id, response_time);
CREATE INDEX IF NOT EXISTS idx_chatgpt_logs_request_time
	ON chatgpt_logs (request, response_time);

CREATE TABLE IF NOT EXISTS meta_summarizer_log (
	id                 TEXT NOT NULL,
	request            TEXT,
	response           TEXT,
	usage_info         TEXT,
	user_name          TEXT NOT NULL,
	title              TEXT,
	response_time      TIMESTAMP NOT NULL,
	orig_summarized_id TEXT,
	PRIMARY KEY (id, user_name)
);

CREATE TABLE IF NOT EXISTS image_logs (
	id            TEXT NOT NULL,
	request       TEXT,
	response      TEXT,
	usage_cost    REAL,
	user_name     TEXT NOT NULL,
	title         TEXT,
	response_time TIMESTAMP NOT NULL,
	PRIMARY KEY (id, user_name)
);
`

// Store is the relational log store backing the gateway.
type Store struct {
	db           *sql.DB
	now          func() time.Time
	checkTimeout time.Duration
}

// Open connects to the sqlite database at dsn and bootstraps the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &Store{db: db, now: time.Now, checkTimeout: config.ExistenceCheckTimeout}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ChatLog is one proxied chat interaction.
type ChatLog struct {
	ID           string    `json:"id"`
	Request      string    `json:"request"`
	Response     string    `json:"response"`
	UsageInfo    string    `json:"usage_info,omitempty"`
	UserName     string    `json:"user_name"`
	Title        string    `json:"title"`
	ResponseTime time.Time `json:"response_time"`
	ConvoTitle   string    `json:"convo_title"`
	ConvoShow    bool      `json:"convo_show"`
	RootGPTID    string    `json:"root_gpt_id,omitempty"`
}

// MetaSummaryLog is a derived metadata call over an existing chat row.
type MetaSummaryLog struct {
	ID               string    `json:"id"`
	Request          string    `json:"request"`
	Response         string    `json:"response"`
	UsageInfo        string    `json:"usage_info,omitempty"`
	UserName         string    `json:"user_name"`
	Title            string    `json:"title"`
	ResponseTime     time.Time `json:"response_time"`
	OrigSummarizedID string    `json:"orig_summarized_id"`
}

// ImageLog is one image-generation call with its computed cost.
type ImageLog struct {
	ID           string    `json:"id"`
	Request      string    `json:"request"`
	Response     string    `json:"response"`
	UsageCost    float64   `json:"usage_cost"`
	UserName     string    `json:"user_name"`
	Title        string    `json:"title"`
	ResponseTime time.Time `json:"response_time"`
}

// HistoryItem is one distinct (request, response_time) pair.
type HistoryItem struct {
	Request      string    `json:"request"`
	ResponseTime time.Time `json:"response_time"`
}

// InsertChat appends a chat row. ResponseTime is assigned here, at write
// time, and is immutable thereafter.
func (s *Store) InsertChat(ctx context.Context, entry *ChatLog) error {
	entry.ResponseTime = s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chatgpt_logs
			(id, request, response, usage_info, user_name, title, response_time, convo_title, convo_show, root_gpt_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Request, entry.Response, nullable(entry.UsageInfo),
		entry.UserName, entry.Title, entry.ResponseTime, entry.ConvoTitle,
		entry.ConvoShow, nullable(entry.RootGPTID),
	)
	if err != nil {
		return fmt.Errorf("insert chat log: %w", err)
	}
	return nil
}

// InsertMetaSummary appends a meta-summarizer row.
func (s *Store) InsertMetaSummary(ctx context.Context, entry *MetaSummaryLog) error {
	entry.ResponseTime = s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta_summarizer_log
			(id, request, response, usage_info, user_name, title, response_time, orig_summarized_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Request, entry.Response, nullable(entry.UsageInfo),
		entry.UserName, entry.Title, entry.ResponseTime, entry.OrigSummarizedID,
	)
	if err != nil {
		return fmt.Errorf("insert meta summary log: %w", err)
	}
	return nil
}

// InsertImage appends an image-generation row.
func (s *Store) InsertImage(ctx context.Context, entry *ImageLog) error {
	entry.ResponseTime = s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO image_logs
			(id, request, response, usage_cost, user_name, title, response_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Request, entry.Response, entry.UsageCost,
		entry.UserName, entry.Title, entry.ResponseTime,
	)
	if err != nil {
		return fmt.Errorf("insert image log: %w", err)
	}
	return nil
}

// IDExists reports whether a chat row with the given id exists for any user.
func (s *Store) IDExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chatgpt_logs WHERE id = ? LIMIT 1`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("id existence check: %w", err)
	}
	return true, nil
}

// FindByRequest returns the most recent row whose stored request matches
// serialized exactly and whose response_time is within maxAge of now.
// Exact-match lookup; no fuzzy matching.
func (s *Store) FindByRequest(ctx context.Context, serialized string, maxAge time.Duration) (*ChatLog, error) {
	cutoff := s.now().UTC().Add(-maxAge)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request, response, usage_info, user_name, title, response_time, convo_title, convo_show, root_gpt_id
		FROM chatgpt_logs
		WHERE request = ? AND response_time >= ?
		ORDER BY response_time DESC
		LIMIT 1`,
		serialized, cutoff,
	)
	return scanChatLog(row)
}

// FindLatestByRoot returns the most recent row of a conversation.
func (s *Store) FindLatestByRoot(ctx context.Context, rootID string) (*ChatLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request, response, usage_info, user_name, title, response_time, convo_title, convo_show, root_gpt_id
		FROM chatgpt_logs
		WHERE root_gpt_id = ?
		ORDER BY response_time DESC
		LIMIT 1`,
		rootID,
	)
	return scanChatLog(row)
}

// UpdateTitle bulk-renames every row sharing rootID. Zero matched rows is a
// no-op, not an error.
func (s *Store) UpdateTitle(ctx context.Context, rootID, title string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chatgpt_logs SET convo_title = ? WHERE root_gpt_id = ?`, title, rootID)
	if err != nil {
		return 0, fmt.Errorf("update convo title: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SetVisibility bulk-updates convo_show for a conversation. Rows are never
// deleted; this is the only removal primitive.
func (s *Store) SetVisibility(ctx context.Context, rootID string, visible bool) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chatgpt_logs SET convo_show = ? WHERE root_gpt_id = ?`, visible, rootID)
	if err != nil {
		return 0, fmt.Errorf("update convo visibility: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListHistory returns all distinct (request, response_time) pairs for a
// user, newest first.
func (s *Store) ListHistory(ctx context.Context, userName, title string) ([]HistoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT request, response_time
		FROM chatgpt_logs
		WHERE user_name = ? AND title = ?
		ORDER BY response_time DESC`,
		userName, title,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := []HistoryItem{}
	for rows.Next() {
		var it HistoryItem
		if err := rows.Scan(&it.Request, &it.ResponseTime); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListConversations returns the most recent visible row of each conversation
// for a user, newest first. Rows with convo_show=false are excluded but
// remain in storage. Ties on response_time collapse to one row per root.
func (s *Store) ListConversations(ctx context.Context, userName string) ([]ChatLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.request, c.response, c.usage_info, c.user_name, c.title, c.response_time, c.convo_title, c.convo_show, c.root_gpt_id
		FROM chatgpt_logs c
		JOIN (
			SELECT root_gpt_id, MAX(response_time) AS latest
			FROM chatgpt_logs
			WHERE user_name = ? AND root_gpt_id IS NOT NULL AND convo_show = 1
			GROUP BY root_gpt_id
		) m ON c.root_gpt_id = m.root_gpt_id AND c.response_time = m.latest
		WHERE c.user_name = ? AND c.convo_show = 1
		GROUP BY c.root_gpt_id
		ORDER BY c.response_time DESC`,
		userName, userName,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convos := []ChatLog{}
	for rows.Next() {
		entry, err := scanChatLogRows(rows)
		if err != nil {
			return nil, err
		}
		convos = append(convos, *entry)
	}
	return convos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatLog(row *sql.Row) (*ChatLog, error) {
	entry, err := scanFrom(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return entry, err
}

func scanChatLogRows(rows *sql.Rows) (*ChatLog, error) {
	return scanFrom(rows)
}

func scanFrom(r rowScanner) (*ChatLog, error) {
	var entry ChatLog
	var usage, root sql.NullString
	err := r.Scan(&entry.ID, &entry.Request, &entry.Response, &usage,
		&entry.UserName, &entry.Title, &entry.ResponseTime,
		&entry.ConvoTitle, &entry.ConvoShow, &root)
	if err != nil {
		return nil, err
	}
	entry.UsageInfo = usage.String
	entry.RootGPTID = root.String
	return &entry, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
