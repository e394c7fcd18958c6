package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"analyst-chat/internal/logging"
	"analyst-chat/internal/session"
)

const memoryDSN = "file::memory:?_foreign_keys=on"

// Indexer mirrors the session store into an in-memory sqlite database so
// messages can be searched across sessions. It is fed through
// SessionChanged and never outlives the process.
type Indexer struct {
	ctx        context.Context
	db         *sql.DB
	ftsEnabled bool
	mu         sync.Mutex
}

func New(ctx context.Context) (*Indexer, error) {
	db, err := sql.Open("sqlite3", memoryDSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	i := &Indexer{ctx: ctx, db: db}
	if err := i.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return i, nil
}

func (i *Indexer) Close() error {
	return i.db.Close()
}

func (i *Indexer) FTSEnabled() bool { return i.ftsEnabled }

func (i *Indexer) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT,
			last_activity_ts INTEGER,
			message_count INTEGER,
			preview TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT,
			session_id TEXT,
			ts INTEGER,
			role TEXT,
			content TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_id, ts, id);`,
	}

	for _, stmt := range stmts {
		if _, err := i.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return i.ensureFTSTable()
}

func (i *Indexer) ensureFTSTable() error {
	_, err := i.db.Exec(`CREATE VIRTUAL TABLE messages_fts USING fts5(
		session_id UNINDEXED,
		role UNINDEXED,
		content
	);`)
	if err == nil {
		i.ftsEnabled = true
		return nil
	}

	if !strings.Contains(strings.ToLower(err.Error()), "no such module: fts5") {
		return fmt.Errorf("create messages_fts: %w", err)
	}

	// Fallback for sqlite builds without FTS5 support.
	if _, err := i.db.Exec(`CREATE TABLE IF NOT EXISTS messages_fts (
		rowid INTEGER PRIMARY KEY,
		session_id TEXT,
		role TEXT,
		content TEXT
	);`); err != nil {
		return fmt.Errorf("create messages_fts fallback table: %w", err)
	}
	if _, err := i.db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_fts_session_id ON messages_fts(session_id);`); err != nil {
		return fmt.Errorf("create fallback messages_fts index: %w", err)
	}
	i.ftsEnabled = false
	return nil
}

// SessionChanged keeps the index in step with the session store.
func (i *Indexer) SessionChanged(c session.Change) {
	var err error
	switch c.Kind {
	case session.Created, session.Replaced:
		err = i.ReplaceSession(c.Session)
	case session.Appended:
		if c.Message != nil {
			err = i.AddMessage(c.Session, *c.Message)
		}
	case session.Dropped:
		err = i.DropSession(c.Session.ID)
	}
	if err != nil {
		logging.Warn(i.ctx, "index update failed",
			slog.String("session_id", c.Session.ID),
			slog.String("change", c.Kind.String()),
			slog.String("error", err.Error()))
	}
}

// ReplaceSession rewrites every row of s.
func (i *Indexer) ReplaceSession(s session.Session) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	tx, err := i.db.BeginTx(i.ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer tx.Rollback()

	if err := deleteSessionRows(i.ctx, tx, s.ID); err != nil {
		return err
	}
	for _, m := range s.Messages {
		if err := insertMessage(i.ctx, tx, s.ID, m); err != nil {
			return err
		}
	}
	if err := refreshSession(i.ctx, tx, s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace %s: %w", s.ID, err)
	}
	return nil
}

// AddMessage indexes one appended message of s.
func (i *Indexer) AddMessage(s session.Session, m session.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	tx, err := i.db.BeginTx(i.ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertMessage(i.ctx, tx, s.ID, m); err != nil {
		return err
	}
	if err := refreshSession(i.ctx, tx, s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append %s: %w", s.ID, err)
	}
	return nil
}

func (i *Indexer) DropSession(sessionID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	tx, err := i.db.BeginTx(i.ctx, nil)
	if err != nil {
		return fmt.Errorf("begin drop tx: %w", err)
	}
	defer tx.Rollback()

	if err := deleteSessionRows(i.ctx, tx, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(i.ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit drop %s: %w", sessionID, err)
	}
	return nil
}

func deleteSessionRows(ctx context.Context, tx *sql.Tx, sessionID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages_fts WHERE rowid IN (SELECT id FROM messages WHERE session_id = ?)`, sessionID); err != nil {
		return fmt.Errorf("delete fts rows for %s: %w", sessionID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages for %s: %w", sessionID, err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, sessionID string, m session.Message) error {
	if strings.TrimSpace(m.Content) == "" {
		return nil
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages(message_id, session_id, ts, role, content)
		VALUES(?, ?, ?, ?, ?)
	`, m.ID, sessionID, m.CreatedAt.Unix(), string(m.Role), m.Content)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("message rowid: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages_fts(rowid, session_id, role, content)
		VALUES(?, ?, ?, ?)
	`, rowID, sessionID, string(m.Role), m.Content); err != nil {
		return fmt.Errorf("insert fts row %s: %w", m.ID, err)
	}
	return nil
}

func refreshSession(ctx context.Context, tx *sql.Tx, s session.Session) error {
	last := s.CreatedAt.Unix()
	if n := len(s.Messages); n > 0 {
		last = s.Messages[n-1].CreatedAt.Unix()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions(id, title, last_activity_ts, message_count, preview)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			last_activity_ts=excluded.last_activity_ts,
			message_count=excluded.message_count,
			preview=excluded.preview
	`, s.ID, s.Title, last, len(s.Messages), trimPreview(pickPreview(s))); err != nil {
		return fmt.Errorf("upsert session %s: %w", s.ID, err)
	}
	return nil
}

func pickPreview(s session.Session) string {
	for _, m := range s.Messages {
		if m.Role == session.RoleUser && strings.TrimSpace(m.Content) != "" {
			return m.Content
		}
	}
	return ""
}

const previewLimit = 120

// trimPreview flattens s to one line of at most previewLimit runes.
func trimPreview(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	runes := []rune(s)
	if len(runes) <= previewLimit {
		return s
	}
	return string(runes[:previewLimit-3]) + "..."
}

// ListSessions returns indexed sessions, most recent first, or ranked by
// match count when query is set.
func (i *Indexer) ListSessions(query string, limit int) ([]Session, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if limit <= 0 {
		limit = 200
	}
	query = strings.TrimSpace(query)

	var rows *sql.Rows
	var err error
	if query == "" {
		rows, err = i.db.Query(`
			SELECT id, COALESCE(title, ''), COALESCE(last_activity_ts, 0), COALESCE(message_count, 0), COALESCE(preview, ''), 0
			FROM sessions
			WHERE COALESCE(message_count, 0) > 0
			ORDER BY last_activity_ts DESC, id
			LIMIT ?
		`, limit)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
	} else {
		rows, err = i.searchRows(query, limit)
		if err != nil {
			return nil, err
		}
	}
	defer rows.Close()

	out := make([]Session, 0, 16)
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Title, &s.LastActivityTS, &s.MessageCount, &s.Preview, &s.Score); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

// Search ranks sessions containing query. An empty query matches nothing.
func (i *Indexer) Search(query string, limit int) ([]Session, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	return i.ListSessions(query, limit)
}

func (i *Indexer) searchRows(query string, limit int) (*sql.Rows, error) {
	if i.ftsEnabled {
		rows, err := i.searchRowsFTS(query, limit)
		if err == nil {
			return rows, nil
		}
		fallback, fbErr := i.searchRowsLike(query, limit)
		if fbErr != nil {
			return nil, fmt.Errorf("list sessions search (fts and fallback failed): fts=%w, fallback=%v", err, fbErr)
		}
		return fallback, nil
	}
	return i.searchRowsLike(query, limit)
}

func (i *Indexer) searchRowsFTS(query string, limit int) (*sql.Rows, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, errors.New("empty fts query")
	}
	rows, err := i.db.Query(`
		SELECT s.id, COALESCE(s.title, ''), COALESCE(s.last_activity_ts, 0), COALESCE(s.message_count, 0), COALESCE(s.preview, ''), ranked.score
		FROM sessions s
		JOIN (
			SELECT session_id, COUNT(*) AS score
			FROM messages_fts
			WHERE messages_fts MATCH ?
			GROUP BY session_id
			ORDER BY score DESC
			LIMIT ?
		) ranked ON ranked.session_id = s.id
		ORDER BY ranked.score DESC, s.last_activity_ts DESC
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query failed: %w", err)
	}
	return rows, nil
}

func (i *Indexer) searchRowsLike(query string, limit int) (*sql.Rows, error) {
	terms := tokenizeSearchTerms(query)
	if len(terms) == 0 {
		terms = []string{strings.ToLower(strings.TrimSpace(query))}
	}

	var b strings.Builder
	b.WriteString(`
		SELECT s.id, COALESCE(s.title, ''), COALESCE(s.last_activity_ts, 0), COALESCE(s.message_count, 0), COALESCE(s.preview, ''), ranked.score
		FROM sessions s
		JOIN (
			SELECT session_id, COUNT(*) AS score
			FROM messages
			WHERE `)
	args := make([]any, 0, len(terms)+1)
	for idx, term := range terms {
		if idx > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("LOWER(content) LIKE ?")
		args = append(args, "%"+term+"%")
	}
	b.WriteString(`
			GROUP BY session_id
			ORDER BY score DESC
			LIMIT ?
		) ranked ON ranked.session_id = s.id
		ORDER BY ranked.score DESC, s.last_activity_ts DESC
	`)
	args = append(args, limit)
	rows, err := i.db.Query(b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("like query failed: %w", err)
	}
	return rows, nil
}

func buildFTSQuery(raw string) string {
	parts := tokenizeSearchTerms(raw)
	if len(parts) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ReplaceAll(p, `"`, "")
		if p == "" {
			continue
		}
		quoted = append(quoted, fmt.Sprintf(`"%s"*`, p))
	}
	return strings.Join(quoted, " AND ")
}

func tokenizeSearchTerms(raw string) []string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(raw)))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "`\"'.,:;!?()[]{}<>|")
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (i *Indexer) GetMessages(sessionID string) ([]Message, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	rows, err := i.db.Query(`
		SELECT id, COALESCE(message_id, ''), session_id, COALESCE(ts, 0), role, content
		FROM messages
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 32)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MessageID, &m.SessionID, &m.TS, &m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func FormatUnix(ts int64) string {
	if ts <= 0 {
		return "n/a"
	}
	return time.Unix(ts, 0).Local().Format("2006-01-02 15:04")
}
