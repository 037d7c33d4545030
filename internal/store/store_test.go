package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// backends returns both Store implementations so every test runs against
// each; the two must agree on semantics.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func seed(t *testing.T, s Store) string {
	t.Helper()
	chat := &models.Chat{ID: "chat-1", OwnerID: "user-1"}
	if err := s.InsertChat(context.Background(), chat); err != nil {
		t.Fatal(err)
	}
	return chat.ID
}

func insertMsg(t *testing.T, s Store, chatID, id string, role models.Role, content string) {
	t.Helper()
	err := s.InsertMessage(context.Background(), &models.Message{
		ID: id, ChatID: chatID, Role: role, Content: content, IsComplete: true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMessageOrderAndPatch(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			chatID := seed(t, s)
			insertMsg(t, s, chatID, "m1", models.RoleUser, "first")
			insertMsg(t, s, chatID, "m2", models.RoleAssistant, "second")
			insertMsg(t, s, chatID, "m3", models.RoleUser, "third")

			msgs, err := s.GetMessagesForChat(ctx, chatID)
			if err != nil {
				t.Fatal(err)
			}
			if len(msgs) != 3 || msgs[0].ID != "m1" || msgs[2].ID != "m3" {
				t.Fatalf("order wrong: %v", ids(msgs))
			}

			// Snapshot overwrite: repeated patches with growing content.
			for _, content := range []string{"a", "ab", "abc"} {
				c := content
				if err := s.PatchMessage(ctx, "m2", MessagePatch{Content: &c}); err != nil {
					t.Fatal(err)
				}
			}
			thinking := "pondering"
			duration := 1.5
			complete := true
			if err := s.PatchMessage(ctx, "m2", MessagePatch{
				Thinking: &thinking, ThinkingDuration: &duration, IsComplete: &complete,
				ToolCalls: []models.ToolCallRecord{{ToolCallID: "c1", ToolName: "echo", Args: []byte(`{}`), Result: []byte(`{"content":"x"}`)}},
			}); err != nil {
				t.Fatal(err)
			}

			msg, err := s.GetMessage(ctx, "m2")
			if err != nil {
				t.Fatal(err)
			}
			if msg.Content != "abc" || msg.Thinking != "pondering" || msg.ThinkingDuration != 1.5 {
				t.Errorf("msg = %+v", msg)
			}
			if len(msg.ToolCalls) != 1 || !msg.ToolCalls[0].HasResult() {
				t.Errorf("tool calls = %+v", msg.ToolCalls)
			}
		})
	}
}

func TestPatchMessageAttachments(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			chatID := seed(t, s)
			insertMsg(t, s, chatID, "m1", models.RoleAssistant, "")

			attachments := []models.Attachment{
				{Name: "generated-image.png", Type: "image", URL: "https://img.example/a.png"},
			}
			if err := s.PatchMessage(ctx, "m1", MessagePatch{Attachments: attachments}); err != nil {
				t.Fatal(err)
			}

			msg, err := s.GetMessage(ctx, "m1")
			if err != nil {
				t.Fatal(err)
			}
			if len(msg.Attachments) != 1 || msg.Attachments[0].URL != "https://img.example/a.png" {
				t.Fatalf("attachments = %+v", msg.Attachments)
			}

			// A patch without attachments leaves them unchanged.
			content := "done"
			if err := s.PatchMessage(ctx, "m1", MessagePatch{Content: &content}); err != nil {
				t.Fatal(err)
			}
			msg, err = s.GetMessage(ctx, "m1")
			if err != nil {
				t.Fatal(err)
			}
			if len(msg.Attachments) != 1 {
				t.Errorf("attachments lost by unrelated patch: %+v", msg.Attachments)
			}
		})
	}
}

func TestDeleteMessagesFromTruncates(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			chatID := seed(t, s)
			for _, id := range []string{"m1", "m2", "m3", "m4"} {
				insertMsg(t, s, chatID, id, models.RoleUser, id)
			}

			if err := s.DeleteMessagesFrom(ctx, chatID, "m2"); err != nil {
				t.Fatal(err)
			}
			msgs, _ := s.GetMessagesForChat(ctx, chatID)
			if len(msgs) != 1 || msgs[0].ID != "m1" {
				t.Errorf("after truncation: %v", ids(msgs))
			}

			if err := s.DeleteMessagesFrom(ctx, chatID, "m2"); !errors.Is(err, ErrNotFound) {
				t.Errorf("second truncation err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestDeleteChatCascades(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			chatID := seed(t, s)
			insertMsg(t, s, chatID, "m1", models.RoleUser, "hi")

			if err := s.DeleteChat(ctx, chatID); err != nil {
				t.Fatal(err)
			}
			if _, err := s.GetChat(ctx, chatID); !errors.Is(err, ErrNotFound) {
				t.Errorf("chat still present: %v", err)
			}
			if _, err := s.GetMessage(ctx, "m1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("message survived cascade: %v", err)
			}
		})
	}
}

func TestClaimTitleGenerationSingleWinner(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			chatID := seed(t, s)

			won, err := s.ClaimTitleGeneration(ctx, chatID)
			if err != nil || !won {
				t.Fatalf("first claim = %v, %v; want won", won, err)
			}
			won, err = s.ClaimTitleGeneration(ctx, chatID)
			if err != nil || won {
				t.Fatalf("second claim = %v, %v; want lost", won, err)
			}

			// Claims against a titled chat always lose.
			generating := false
			title := "Done"
			if err := s.PatchChat(ctx, chatID, ChatPatch{Title: &title, IsGeneratingTitle: &generating}); err != nil {
				t.Fatal(err)
			}
			won, err = s.ClaimTitleGeneration(ctx, chatID)
			if err != nil || won {
				t.Fatalf("claim on titled chat = %v, %v; want lost", won, err)
			}
		})
	}
}

func TestConsumeWindowSemantics(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			window := 5 * time.Hour

			// Fill the window.
			for i := 1; i <= 3; i++ {
				w, ok, err := s.ConsumeWindow(ctx, "u1", window, 3, now)
				if err != nil || !ok {
					t.Fatalf("consume %d: ok=%v err=%v", i, ok, err)
				}
				if w.Count != i {
					t.Fatalf("count = %d, want %d", w.Count, i)
				}
			}

			// At the ceiling: rejected, record untouched.
			w, ok, err := s.ConsumeWindow(ctx, "u1", window, 3, now)
			if err != nil || ok {
				t.Fatalf("over-ceiling: ok=%v err=%v", ok, err)
			}
			if w.Count != 3 {
				t.Errorf("rejection mutated count: %d", w.Count)
			}

			// Expired window resets to 1.
			w, ok, err = s.ConsumeWindow(ctx, "u1", window, 3, now.Add(window))
			if err != nil || !ok {
				t.Fatalf("post-expiry: ok=%v err=%v", ok, err)
			}
			if w.Count != 1 {
				t.Errorf("count after reset = %d, want 1", w.Count)
			}

			// Refund decrements, never below zero.
			if err := s.RefundWindow(ctx, "u1"); err != nil {
				t.Fatal(err)
			}
			got, err := s.GetWindow(ctx, "u1")
			if err != nil || got.Count != 0 {
				t.Fatalf("after refund: %+v, %v", got, err)
			}
			if err := s.RefundWindow(ctx, "u1"); err != nil {
				t.Fatal(err)
			}
			got, _ = s.GetWindow(ctx, "u1")
			if got.Count != 0 {
				t.Errorf("refund went below zero: %d", got.Count)
			}
		})
	}
}

func TestConsumeWindowAtomicUnderContention(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			const callers = 20
			const ceiling = 5
			var wg sync.WaitGroup
			allowed := make(chan bool, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, ok, err := s.ConsumeWindow(ctx, "contended", time.Hour, ceiling, now)
					if err != nil {
						t.Error(err)
						return
					}
					allowed <- ok
				}()
			}
			wg.Wait()
			close(allowed)

			admitted := 0
			for ok := range allowed {
				if ok {
					admitted++
				}
			}
			if admitted != ceiling {
				t.Errorf("admitted %d callers, want exactly %d", admitted, ceiling)
			}
		})
	}
}

func TestResearchSessionLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session := &models.ResearchSession{ID: "rs-1", UserID: "user-1", Prompt: "why"}
			if err := s.InsertSession(ctx, session); err != nil {
				t.Fatal(err)
			}

			for i, q := range []string{"first query", "second query"} {
				err := s.AppendAction(ctx, "rs-1", models.ResearchAction{
					Type: models.ActionSearch, ToolCallID: "c" + string(rune('1'+i)),
					Query: q, Timestamp: time.Now().UTC(),
				})
				if err != nil {
					t.Fatal(err)
				}
			}

			done := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
			if err := s.CompleteSession(ctx, "rs-1", "the answer", done); err != nil {
				t.Fatal(err)
			}

			got, err := s.GetSession(ctx, "rs-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != models.ResearchCompleted || got.Summary != "the answer" {
				t.Errorf("session = %+v", got)
			}
			if len(got.Actions) != 2 || got.Actions[0].Query != "first query" {
				t.Errorf("actions = %+v", got.Actions)
			}
			if got.CompletedAt.IsZero() {
				t.Error("no completion time")
			}

			sessions, err := s.ListSessions(ctx, "user-1")
			if err != nil || len(sessions) != 1 {
				t.Errorf("list = %d sessions, %v; want 1", len(sessions), err)
			}
			sessions, err = s.ListSessions(ctx, "someone-else")
			if err != nil || len(sessions) != 0 {
				t.Errorf("list for other user = %d sessions, %v; want 0", len(sessions), err)
			}
		})
	}
}

func TestFailSession(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.InsertSession(ctx, &models.ResearchSession{ID: "rs-1", UserID: "u"}); err != nil {
				t.Fatal(err)
			}
			if err := s.FailSession(ctx, "rs-1", time.Now().UTC()); err != nil {
				t.Fatal(err)
			}
			got, _ := s.GetSession(ctx, "rs-1")
			if got.Status != models.ResearchFailed || got.Summary != "" {
				t.Errorf("session = %+v", got)
			}
		})
	}
}

func ids(msgs []*models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
