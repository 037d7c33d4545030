package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/relay/internal/provider"
	"github.com/haasonsaas/relay/internal/store"
	"github.com/haasonsaas/relay/pkg/models"
)

const maxTitleLength = 80

// GenerateTitle produces a chat title from its first user message using the
// default model. The ClaimTitleGeneration guard makes the operation
// single-winner: concurrent callers after the first return immediately, so a
// chat never gets two title generations racing.
func (o *Orchestrator) GenerateTitle(ctx context.Context, chatID, userID string) error {
	won, err := o.deps.Chats.ClaimTitleGeneration(ctx, chatID)
	if err != nil {
		return fmt.Errorf("claim title generation: %w", err)
	}
	if !won {
		return nil
	}
	// Release the guard regardless of outcome so a failed attempt can be
	// retried later.
	defer func() {
		generating := false
		if err := o.deps.Chats.PatchChat(ctx, chatID, store.ChatPatch{IsGeneratingTitle: &generating}); err != nil {
			o.deps.Logger.Warn(ctx, "failed to release title guard", "chat_id", chatID, "error", err)
		}
	}()

	msgs, err := o.deps.Messages.GetMessagesForChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	var firstUser string
	for _, m := range msgs {
		if m.Role == models.RoleUser && m.Content != "" {
			firstUser = m.Content
			break
		}
	}
	if firstUser == "" {
		return nil
	}

	model, err := o.deps.Catalog.ResolveOrDefault("")
	if err != nil {
		return err
	}
	p, err := o.deps.Providers.Bind(ctx, userID, model)
	if err != nil {
		return err
	}

	ch, err := p.Complete(ctx, &provider.Request{
		Model: model.ID,
		Messages: []provider.Message{{
			Role:    "user",
			Content: fmt.Sprintf(titlePrompt, firstUser),
		}},
		MaxTokens: 64,
	})
	if err != nil {
		return fmt.Errorf("title generation: %w", err)
	}

	var b strings.Builder
	for chunk := range ch {
		if chunk.Error != nil {
			return fmt.Errorf("title generation: %w", chunk.Error)
		}
		b.WriteString(chunk.Text)
	}

	title := cleanTitle(b.String())
	if title == "" {
		return nil
	}
	if err := o.deps.Chats.PatchChat(ctx, chatID, store.ChatPatch{Title: &title}); err != nil {
		return fmt.Errorf("store title: %w", err)
	}
	o.deps.Logger.Info(ctx, "chat title generated", "chat_id", chatID, "title", title)
	return nil
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimSuffix(s, ".")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > maxTitleLength {
		s = strings.TrimSpace(s[:maxTitleLength])
	}
	return s
}
