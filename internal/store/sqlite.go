package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/relay/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	is_pinned INTEGER NOT NULL DEFAULT 0,
	is_shared INTEGER NOT NULL DEFAULT 0,
	is_branch INTEGER NOT NULL DEFAULT 0,
	is_generating_title INTEGER NOT NULL DEFAULT 0,
	share_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_owner ON chats(owner_id);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	model_id TEXT NOT NULL DEFAULT '',
	thinking TEXT NOT NULL DEFAULT '',
	thinking_duration REAL NOT NULL DEFAULT 0,
	is_complete INTEGER NOT NULL DEFAULT 0,
	is_cancelled INTEGER NOT NULL DEFAULT 0,
	attachments TEXT,
	tool_calls TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_seq ON messages(chat_id, seq);

CREATE TABLE IF NOT EXISTS usage_windows (
	subject_key TEXT PRIMARY KEY,
	count INTEGER NOT NULL,
	window_start TIMESTAMP NOT NULL,
	last_updated TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS research_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	prompt TEXT NOT NULL,
	status TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS research_actions (
	session_id TEXT NOT NULL REFERENCES research_sessions(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	type TEXT NOT NULL,
	tool_call_id TEXT NOT NULL DEFAULT '',
	thoughts TEXT NOT NULL DEFAULT '',
	query TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	ts TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// SQLiteStore implements Store using an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary initializes) a SQLite database at
// the given path. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; serialize through a single connection to
	// keep ConsumeWindow's read-modify-write atomic.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) InsertChat(ctx context.Context, chat *models.Chat) error {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}
	chat.UpdatedAt = chat.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, owner_id, title, is_pinned, is_shared, is_branch, is_generating_title, share_id, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`, chat.ID, chat.OwnerID, chat.Title, chat.IsPinned, chat.IsShared, chat.IsBranch, chat.IsGeneratingTitle, chat.ShareID, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, is_pinned, is_shared, is_branch, is_generating_title, share_id, created_at, updated_at
		FROM chats WHERE id = ?
	`, id)
	var chat models.Chat
	err := row.Scan(&chat.ID, &chat.OwnerID, &chat.Title, &chat.IsPinned, &chat.IsShared, &chat.IsBranch, &chat.IsGeneratingTitle, &chat.ShareID, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &chat, nil
}

func (s *SQLiteStore) PatchChat(ctx context.Context, id string, patch ChatPatch) error {
	set := "updated_at = ?"
	args := []any{time.Now().UTC()}
	if patch.Title != nil {
		set += ", title = ?"
		args = append(args, *patch.Title)
	}
	if patch.IsPinned != nil {
		set += ", is_pinned = ?"
		args = append(args, *patch.IsPinned)
	}
	if patch.IsShared != nil {
		set += ", is_shared = ?"
		args = append(args, *patch.IsShared)
	}
	if patch.IsGeneratingTitle != nil {
		set += ", is_generating_title = ?"
		args = append(args, *patch.IsGeneratingTitle)
	}
	if patch.ShareID != nil {
		set += ", share_id = ?"
		args = append(args, *patch.ShareID)
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, "UPDATE chats SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("patch chat: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) ListChats(ctx context.Context, ownerID string) ([]*models.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, is_pinned, is_shared, is_branch, is_generating_title, share_id, created_at, updated_at
		FROM chats WHERE owner_id = ? OR ? = '' ORDER BY created_at
	`, ownerID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []*models.Chat
	for rows.Next() {
		var chat models.Chat
		if err := rows.Scan(&chat.ID, &chat.OwnerID, &chat.Title, &chat.IsPinned, &chat.IsShared, &chat.IsBranch, &chat.IsGeneratingTitle, &chat.ShareID, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, &chat)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClaimTitleGeneration(ctx context.Context, id string) (bool, error) {
	// Single-statement test-and-set; only one caller sees RowsAffected=1.
	res, err := s.db.ExecContext(ctx, `
		UPDATE chats SET is_generating_title = 1, updated_at = ?
		WHERE id = ? AND is_generating_title = 0 AND title = ''
	`, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("claim title generation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetChat(ctx, id); err != nil {
			return false, err
		}
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	attachments, err := marshalJSON(msg.Attachments)
	if err != nil {
		return err
	}
	toolCalls, err := marshalJSON(msg.ToolCalls)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, seq, role, content, model_id, thinking, thinking_duration, is_complete, is_cancelled, attachments, tool_calls, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE chat_id = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChatID, msg.ChatID, string(msg.Role), msg.Content, msg.ModelID, msg.Thinking, msg.ThinkingDuration, msg.IsComplete, msg.IsCancelled, attachments, toolCalls, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const messageColumns = "id, chat_id, role, content, model_id, thinking, thinking_duration, is_complete, is_cancelled, attachments, tool_calls, created_at"

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	var msg models.Message
	var role string
	var attachments, toolCalls sql.NullString
	err := row.Scan(&msg.ID, &msg.ChatID, &role, &msg.Content, &msg.ModelID, &msg.Thinking, &msg.ThinkingDuration, &msg.IsComplete, &msg.IsCancelled, &attachments, &toolCalls, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg.Role = models.Role(role)
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	if toolCalls.Valid && toolCalls.String != "" {
		if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
	}
	return &msg, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) PatchMessage(ctx context.Context, id string, patch MessagePatch) error {
	set := ""
	var args []any
	add := func(col string, val any) {
		if set != "" {
			set += ", "
		}
		set += col + " = ?"
		args = append(args, val)
	}
	if patch.Content != nil {
		add("content", *patch.Content)
	}
	if patch.Thinking != nil {
		add("thinking", *patch.Thinking)
	}
	if patch.ThinkingDuration != nil {
		add("thinking_duration", *patch.ThinkingDuration)
	}
	if patch.IsComplete != nil {
		add("is_complete", *patch.IsComplete)
	}
	if patch.IsCancelled != nil {
		add("is_cancelled", *patch.IsCancelled)
	}
	if patch.ToolCalls != nil {
		encoded, err := marshalJSON(patch.ToolCalls)
		if err != nil {
			return err
		}
		add("tool_calls", encoded)
	}
	if patch.Attachments != nil {
		encoded, err := marshalJSON(patch.Attachments)
		if err != nil {
			return err
		}
		add("attachments", encoded)
	}
	if patch.ModelID != nil {
		add("model_id", *patch.ModelID)
	}
	if set == "" {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("patch message: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) GetMessagesForChat(ctx context.Context, chatID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE chat_id = ? ORDER BY seq", chatID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteMessagesFrom(ctx context.Context, chatID, fromMessageID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE chat_id = ? AND seq >= (SELECT seq FROM messages WHERE id = ? AND chat_id = ?)
	`, chatID, fromMessageID, chatID)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) ConsumeWindow(ctx context.Context, key string, window time.Duration, ceiling int, now time.Time) (models.UsageWindow, bool, error) {
	var out models.UsageWindow
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return out, false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, "SELECT subject_key, count, window_start, last_updated FROM usage_windows WHERE subject_key = ?", key)
	err = row.Scan(&out.SubjectKey, &out.Count, &out.WindowStart, &out.LastUpdated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		out = models.UsageWindow{SubjectKey: key, Count: 1, WindowStart: now, LastUpdated: now}
		if _, err := tx.ExecContext(ctx, "INSERT INTO usage_windows (subject_key, count, window_start, last_updated) VALUES (?,?,?,?)", key, out.Count, out.WindowStart, out.LastUpdated); err != nil {
			return out, false, fmt.Errorf("insert window: %w", err)
		}
	case err != nil:
		return out, false, fmt.Errorf("read window: %w", err)
	case now.Sub(out.WindowStart) >= window:
		out.Count = 1
		out.WindowStart = now
		out.LastUpdated = now
		if _, err := tx.ExecContext(ctx, "UPDATE usage_windows SET count = ?, window_start = ?, last_updated = ? WHERE subject_key = ?", out.Count, out.WindowStart, out.LastUpdated, key); err != nil {
			return out, false, fmt.Errorf("reset window: %w", err)
		}
	case out.Count >= ceiling:
		return out, false, nil
	default:
		out.Count++
		out.LastUpdated = now
		if _, err := tx.ExecContext(ctx, "UPDATE usage_windows SET count = ?, last_updated = ? WHERE subject_key = ?", out.Count, out.LastUpdated, key); err != nil {
			return out, false, fmt.Errorf("increment window: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return out, false, fmt.Errorf("commit: %w", err)
	}
	return out, true, nil
}

func (s *SQLiteStore) RefundWindow(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE usage_windows SET count = count - 1 WHERE subject_key = ? AND count > 0", key)
	if err != nil {
		return fmt.Errorf("refund window: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWindow(ctx context.Context, key string) (*models.UsageWindow, error) {
	row := s.db.QueryRowContext(ctx, "SELECT subject_key, count, window_start, last_updated FROM usage_windows WHERE subject_key = ?", key)
	var w models.UsageWindow
	err := row.Scan(&w.SubjectKey, &w.Count, &w.WindowStart, &w.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get window: %w", err)
	}
	return &w, nil
}

func (s *SQLiteStore) InsertSession(ctx context.Context, session *models.ResearchSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.Status == "" {
		session.Status = models.ResearchRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO research_sessions (id, user_id, prompt, status, summary, created_at, completed_at)
		VALUES (?,?,?,?,?,?,?)
	`, session.ID, session.UserID, session.Prompt, string(session.Status), session.Summary, session.CreatedAt, nullTime(session.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.ResearchSession, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, user_id, prompt, status, summary, created_at, completed_at FROM research_sessions WHERE id = ?", id)
	var session models.ResearchSession
	var status string
	var completedAt sql.NullTime
	err := row.Scan(&session.ID, &session.UserID, &session.Prompt, &status, &session.Summary, &session.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	session.Status = models.ResearchStatus(status)
	if completedAt.Valid {
		session.CompletedAt = completedAt.Time
	}

	rows, err := s.db.QueryContext(ctx, "SELECT type, tool_call_id, thoughts, query, url, ts FROM research_actions WHERE session_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("get actions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var action models.ResearchAction
		var actionType string
		if err := rows.Scan(&actionType, &action.ToolCallID, &action.Thoughts, &action.Query, &action.URL, &action.Timestamp); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		action.Type = models.ResearchActionType(actionType)
		session.Actions = append(session.Actions, action)
	}
	return &session, rows.Err()
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*models.ResearchSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, prompt, status, summary, created_at, completed_at
		FROM research_sessions WHERE user_id = ? OR ? = '' ORDER BY created_at
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.ResearchSession
	for rows.Next() {
		var session models.ResearchSession
		var status string
		var completedAt sql.NullTime
		if err := rows.Scan(&session.ID, &session.UserID, &session.Prompt, &status, &session.Summary, &session.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session.Status = models.ResearchStatus(status)
		if completedAt.Valid {
			session.CompletedAt = completedAt.Time
		}
		out = append(out, &session)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendAction(ctx context.Context, sessionID string, action models.ResearchAction) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO research_actions (session_id, seq, type, tool_call_id, thoughts, query, url, ts)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM research_actions WHERE session_id = ?), ?, ?, ?, ?, ?, ?)
	`, sessionID, sessionID, string(action.Type), action.ToolCallID, action.Thoughts, action.Query, action.URL, action.Timestamp)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) CompleteSession(ctx context.Context, id, summary string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE research_sessions SET status = ?, summary = ?, completed_at = ? WHERE id = ?", string(models.ResearchCompleted), summary, at, id)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) FailSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE research_sessions SET status = ?, completed_at = ? WHERE id = ?", string(models.ResearchFailed), at, id)
	if err != nil {
		return fmt.Errorf("fail session: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalJSON(v any) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode json: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
