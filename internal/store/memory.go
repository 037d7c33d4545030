package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/relay/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and
// local runs. All returned values are clones; callers never share memory
// with the store.
type MemoryStore struct {
	mu       sync.Mutex
	chats    map[string]*models.Chat
	messages map[string]*models.Message
	byChat   map[string][]string // chat id -> message ids in insertion order
	usage    map[string]*models.UsageWindow
	research map[string]*models.ResearchSession
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    map[string]*models.Chat{},
		messages: map[string]*models.Message{},
		byChat:   map[string][]string{},
		usage:    map[string]*models.UsageWindow{},
		research: map[string]*models.ResearchSession{},
	}
}

func (m *MemoryStore) InsertChat(ctx context.Context, chat *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if _, ok := m.chats[chat.ID]; ok {
		return ErrAlreadyExists
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}
	chat.UpdatedAt = chat.CreatedAt
	clone := *chat
	m.chats[chat.ID] = &clone
	return nil
}

func (m *MemoryStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *chat
	return &clone, nil
}

func (m *MemoryStore) PatchChat(ctx context.Context, id string, patch ChatPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Title != nil {
		chat.Title = *patch.Title
	}
	if patch.IsPinned != nil {
		chat.IsPinned = *patch.IsPinned
	}
	if patch.IsShared != nil {
		chat.IsShared = *patch.IsShared
	}
	if patch.IsGeneratingTitle != nil {
		chat.IsGeneratingTitle = *patch.IsGeneratingTitle
	}
	if patch.ShareID != nil {
		chat.ShareID = *patch.ShareID
	}
	chat.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) DeleteChat(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[id]; !ok {
		return ErrNotFound
	}
	delete(m.chats, id)
	for _, msgID := range m.byChat[id] {
		delete(m.messages, msgID)
	}
	delete(m.byChat, id)
	return nil
}

func (m *MemoryStore) ListChats(ctx context.Context, ownerID string) ([]*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Chat, 0)
	for _, chat := range m.chats {
		if ownerID != "" && chat.OwnerID != ownerID {
			continue
		}
		clone := *chat
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ClaimTitleGeneration(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[id]
	if !ok {
		return false, ErrNotFound
	}
	if chat.IsGeneratingTitle || chat.Title != "" {
		return false, nil
	}
	chat.IsGeneratingTitle = true
	chat.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[msg.ChatID]; !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, ok := m.messages[msg.ID]; ok {
		return ErrAlreadyExists
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	clone := cloneMessage(msg)
	m.messages[msg.ID] = clone
	m.byChat[msg.ChatID] = append(m.byChat[msg.ChatID], msg.ID)
	return nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (m *MemoryStore) PatchMessage(ctx context.Context, id string, patch MessagePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	applyMessagePatch(msg, patch)
	return nil
}

func (m *MemoryStore) GetMessagesForChat(ctx context.Context, chatID string) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byChat[chatID]
	out := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := m.messages[id]; ok {
			out = append(out, cloneMessage(msg))
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteMessagesFrom(ctx context.Context, chatID, fromMessageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byChat[chatID]
	cut := -1
	for i, id := range ids {
		if id == fromMessageID {
			cut = i
			break
		}
	}
	if cut < 0 {
		return ErrNotFound
	}
	for _, id := range ids[cut:] {
		delete(m.messages, id)
	}
	m.byChat[chatID] = ids[:cut]
	return nil
}

func (m *MemoryStore) ConsumeWindow(ctx context.Context, key string, window time.Duration, ceiling int, now time.Time) (models.UsageWindow, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.usage[key]
	switch {
	case !ok:
		w = &models.UsageWindow{SubjectKey: key, Count: 1, WindowStart: now, LastUpdated: now}
		m.usage[key] = w
	case now.Sub(w.WindowStart) >= window:
		w.Count = 1
		w.WindowStart = now
		w.LastUpdated = now
	case w.Count >= ceiling:
		// Rejection leaves the record untouched.
		return *w, false, nil
	default:
		w.Count++
		w.LastUpdated = now
	}
	return *w, true, nil
}

func (m *MemoryStore) RefundWindow(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.usage[key]; ok && w.Count > 0 {
		w.Count--
	}
	return nil
}

func (m *MemoryStore) GetWindow(ctx context.Context, key string) (*models.UsageWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.usage[key]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *w
	return &clone, nil
}

func (m *MemoryStore) InsertSession(ctx context.Context, session *models.ResearchSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if _, ok := m.research[session.ID]; ok {
		return ErrAlreadyExists
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	if session.Status == "" {
		session.Status = models.ResearchRunning
	}
	clone := *session
	clone.Actions = append([]models.ResearchAction(nil), session.Actions...)
	m.research[session.ID] = &clone
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*models.ResearchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.research[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *s
	clone.Actions = append([]models.ResearchAction(nil), s.Actions...)
	return &clone, nil
}

func (m *MemoryStore) AppendAction(ctx context.Context, sessionID string, action models.ResearchAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.research[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Actions = append(s.Actions, action)
	return nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, userID string) ([]*models.ResearchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.ResearchSession, 0)
	for _, s := range m.research {
		if userID != "" && s.UserID != userID {
			continue
		}
		clone := *s
		clone.Actions = append([]models.ResearchAction(nil), s.Actions...)
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CompleteSession(ctx context.Context, id, summary string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.research[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = models.ResearchCompleted
	s.Summary = summary
	s.CompletedAt = at
	return nil
}

func (m *MemoryStore) FailSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.research[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = models.ResearchFailed
	s.CompletedAt = at
	return nil
}

// applyMessagePatch applies non-nil fields of the patch to the message.
// Snapshot fields (Content, Thinking, ToolCalls) replace the stored value.
func applyMessagePatch(msg *models.Message, patch MessagePatch) {
	if patch.Content != nil {
		msg.Content = *patch.Content
	}
	if patch.Thinking != nil {
		msg.Thinking = *patch.Thinking
	}
	if patch.ThinkingDuration != nil {
		msg.ThinkingDuration = *patch.ThinkingDuration
	}
	if patch.IsComplete != nil {
		msg.IsComplete = *patch.IsComplete
	}
	if patch.IsCancelled != nil {
		msg.IsCancelled = *patch.IsCancelled
	}
	if patch.ToolCalls != nil {
		msg.ToolCalls = cloneToolCalls(patch.ToolCalls)
	}
	if patch.Attachments != nil {
		msg.Attachments = append([]models.Attachment(nil), patch.Attachments...)
	}
	if patch.ModelID != nil {
		msg.ModelID = *patch.ModelID
	}
}

func cloneMessage(msg *models.Message) *models.Message {
	clone := *msg
	if len(msg.Attachments) > 0 {
		clone.Attachments = append([]models.Attachment(nil), msg.Attachments...)
	}
	clone.ToolCalls = cloneToolCalls(msg.ToolCalls)
	return &clone
}

func cloneToolCalls(calls []models.ToolCallRecord) []models.ToolCallRecord {
	if calls == nil {
		return nil
	}
	out := make([]models.ToolCallRecord, len(calls))
	for i, tc := range calls {
		out[i] = tc
		out[i].Args = append([]byte(nil), tc.Args...)
		out[i].Result = append([]byte(nil), tc.Result...)
	}
	return out
}
