package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/relay/internal/tools"
)

// Preferences carries the user settings that parameterize the system prompt.
type Preferences struct {
	// Name is how the assistant should address the user.
	Name string

	// Instructions are free-form user instructions appended to the prompt.
	Instructions string
}

const basePrompt = `You are a helpful AI assistant. Answer clearly and directly.
Use markdown formatting where it improves readability. Admit uncertainty
rather than guessing.`

const searchPrompt = `You are a helpful AI assistant with access to web search.

Use the web_search tool when the user asks about current events, facts you
are unsure of, or anything that benefits from up-to-date information. Use
read_page to read a search result in full before citing it. Cite sources by
URL when your answer draws on them. Do not search for things you already
know with confidence.`

const researchPrompt = `You are a research assistant conducting an in-depth
investigation. Work in steps: search for relevant sources with web_search,
read the most promising results with read_page, and refine your queries
based on what you learn. Gather evidence from multiple sources before
concluding. When you have enough material, write a thorough summary with
sources cited by URL.`

// systemPrompt selects the prompt template for the active tool set and
// applies user preferences. Research takes priority over search when both
// flags are set.
func systemPrompt(flags tools.Flags, prefs Preferences, now time.Time) string {
	var b strings.Builder

	switch {
	case flags.Research:
		b.WriteString(researchPrompt)
	case flags.WebSearch:
		b.WriteString(searchPrompt)
	default:
		b.WriteString(basePrompt)
	}

	fmt.Fprintf(&b, "\n\nCurrent date: %s.", now.Format("January 2, 2006"))

	if prefs.Name != "" {
		fmt.Fprintf(&b, "\nThe user's name is %s.", prefs.Name)
	}
	if prefs.Instructions != "" {
		fmt.Fprintf(&b, "\n\nUser instructions:\n%s", prefs.Instructions)
	}
	return b.String()
}

const titlePrompt = `Generate a short title for a conversation that starts
with the message below. Respond with the title only: at most six words, no
quotes, no trailing punctuation.

Message:
%s`
