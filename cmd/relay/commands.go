package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/orchestrator"
	"github.com/haasonsaas/relay/internal/ratelimit"
	"github.com/haasonsaas/relay/internal/research"
	"github.com/haasonsaas/relay/internal/store"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/pkg/models"
)

// chatFlags collects the options shared by generation commands.
type chatFlags struct {
	configPath string
	debug      bool
	chatID     string
	modelID    string
	userID     string
	tier       string
	search     bool
	image      bool
}

func buildChatCmd() *cobra.Command {
	var flags chatFlags

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message and stream the response",
		Long: `Send one message through the full pipeline: admission control, a
persisted placeholder, streaming generation with optional tools, and
incremental snapshot writes. The response streams to stdout as it is
persisted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), flags, args[0])
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVar(&flags.chatID, "chat", "", "Continue an existing chat")
	cmd.Flags().StringVarP(&flags.modelID, "model", "m", "", "Model id or alias (default from config)")
	cmd.Flags().StringVar(&flags.userID, "user", "local", "User id")
	cmd.Flags().StringVar(&flags.tier, "tier", "user", "Subject tier: guest, user, or pro")
	cmd.Flags().BoolVar(&flags.search, "search", false, "Enable web search tools")
	cmd.Flags().BoolVar(&flags.image, "image", false, "Enable image generation")

	return cmd
}

func runChat(ctx context.Context, flags chatFlags, message string) error {
	a, err := newApp(flags.configPath, flags.debug)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	ctx = observability.WithRequestID(ctx, uuid.NewString())
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	subject := ratelimit.Subject{Key: flags.userID, Tier: ratelimit.Tier(flags.tier)}
	decision, err := a.limiter.Admit(ctx, subject)
	if err != nil {
		return err
	}
	if decision.Remaining >= 0 {
		fmt.Fprintf(os.Stderr, "%d messages remaining this window\n", decision.Remaining)
	}

	chatID := flags.chatID
	newChat := chatID == ""
	if newChat {
		chat := &models.Chat{ID: uuid.NewString(), OwnerID: flags.userID}
		if err := a.store.InsertChat(ctx, chat); err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		chatID = chat.ID
		fmt.Fprintf(os.Stderr, "chat %s\n", chatID)
	}

	if err := a.store.InsertMessage(ctx, &models.Message{
		ChatID: chatID, Role: models.RoleUser, Content: message, IsComplete: true,
	}); err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}
	placeholder := &models.Message{ID: uuid.NewString(), ChatID: chatID, Role: models.RoleAssistant}
	if err := a.store.InsertMessage(ctx, placeholder); err != nil {
		return fmt.Errorf("insert placeholder: %w", err)
	}

	// Tail the message as the orchestrator persists snapshots.
	tailCtx, stopTail := context.WithCancel(ctx)
	tailDone := make(chan struct{})
	go func() {
		defer close(tailDone)
		tailMessage(tailCtx, a.store, placeholder.ID)
	}()

	_, genErr := a.orchestrator.Generate(ctx, orchestrator.Request{
		ChatID:             chatID,
		UserID:             flags.userID,
		AssistantMessageID: placeholder.ID,
		ModelID:            flags.modelID,
		Tools:              tools.Flags{WebSearch: flags.search, ImageGeneration: flags.image},
	})
	stopTail()
	<-tailDone

	if newChat && genErr == nil {
		if err := a.orchestrator.GenerateTitle(ctx, chatID, flags.userID); err != nil {
			a.logger.Warn(ctx, "title generation failed", "error", err)
		}
	}
	return genErr
}

// tailMessage prints content as it grows in the store. Each snapshot is a
// superset of the last, so printing the suffix past what was already shown
// reproduces the stream.
func tailMessage(ctx context.Context, st store.MessageStore, messageID string) {
	printed := 0
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	for {
		msg, err := st.GetMessage(ctx, messageID)
		if err == nil {
			if len(msg.Content) > printed {
				fmt.Print(msg.Content[printed:])
				printed = len(msg.Content)
			}
			if msg.IsComplete {
				fmt.Println()
				return
			}
		}
		select {
		case <-ctx.Done():
			// Flush whatever made it to the store.
			if msg, err := st.GetMessage(context.Background(), messageID); err == nil && len(msg.Content) > printed {
				fmt.Print(msg.Content[printed:])
			}
			fmt.Println()
			return
		case <-ticker.C:
		}
	}
}

func buildResearchCmd() *cobra.Command {
	var flags chatFlags

	cmd := &cobra.Command{
		Use:   "research [prompt]",
		Short: "Run a bounded research session",
		Long: `Run an autonomous research loop: the model alternates web searches and
page reads within a fixed action budget, then writes a summary. Every
action is persisted to the session log as it executes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResearch(cmd.Context(), flags, args[0])
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVarP(&flags.modelID, "model", "m", "", "Model id or alias (default from config)")
	cmd.Flags().StringVar(&flags.userID, "user", "local", "User id")
	cmd.Flags().StringVar(&flags.tier, "tier", "user", "Subject tier: guest, user, or pro")

	return cmd
}

func runResearch(ctx context.Context, flags chatFlags, prompt string) error {
	a, err := newApp(flags.configPath, flags.debug)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	ctx = observability.WithRequestID(ctx, uuid.NewString())
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := a.runner.Run(ctx, research.Request{
		Subject: ratelimit.Subject{Key: flags.userID, Tier: ratelimit.Tier(flags.tier)},
		UserID:  flags.userID,
		Prompt:  prompt,
		ModelID: flags.modelID,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "session %s: %d actions\n", session.ID, len(session.Actions))
	for _, action := range session.Actions {
		switch action.Type {
		case models.ActionSearch:
			fmt.Fprintf(os.Stderr, "  search %q\n", action.Query)
		case models.ActionRead:
			fmt.Fprintf(os.Stderr, "  read   %s\n", action.URL)
		}
	}
	fmt.Println(session.Summary)
	return nil
}

func buildModelsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available models",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath, false)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tTIER\tCAPABILITIES")
			for _, m := range a.catalog.List() {
				caps := make([]string, 0, len(m.Capabilities))
				for _, c := range m.Capabilities {
					caps = append(caps, string(c))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					m.ID, m.Name, m.Provider, m.Tier, strings.Join(caps, ","))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
