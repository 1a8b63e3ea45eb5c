package prompt

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/litlabs-admin/daddyjohn/internal/completion"
	"github.com/litlabs-admin/daddyjohn/internal/memory"
)

const (
	// FetchTurns is how many prior turns are read from the store.
	FetchTurns = 20
	// WindowTurns is how many of those are sent upstream.
	WindowTurns = 10

	FallbackPersona = "You are Daddy John, a helpful, caring, and supportive digital dad who gives advice with warmth and humor."

	conversationHeader = "CURRENT CONVERSATION:"
	backgroundPreamble = "BACKGROUND CONTEXT (use this for memory but prioritize the user's last message):\n"
)

// Result is an assembled prompt plus the prior turns it was built from.
type Result struct {
	Messages []completion.Message
	// History holds up to FetchTurns prior turns in chronological order.
	History []memory.Turn
}

// Builder assembles the bounded prompt for one chat request.
type Builder struct {
	store   memory.Store
	persona string
	logger  *zap.Logger
}

func NewBuilder(store memory.Store, persona string, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(persona) == "" {
		persona = FallbackPersona
	}
	return &Builder{store: store, persona: persona, logger: logger}
}

func (b *Builder) Persona() string { return b.persona }

// Build reads history and the latest summary for userID and returns
// [persona, background, <=WindowTurns turns, message]. The turn with ID
// excludeTurnID (the just-stored message) is left out of the history.
// Store failures degrade to an empty history.
func (b *Builder) Build(ctx context.Context, userID, message, excludeTurnID string) Result {
	history := b.history(ctx, userID, excludeTurnID)
	summary := b.summary(ctx, userID)
	return Result{
		Messages: Compose(b.persona, summary, history, message),
		History:  history,
	}
}

// Compose lays out a prompt without touching the store.
func Compose(persona, summary string, history []memory.Turn, message string) []completion.Message {
	window := history
	if len(window) > WindowTurns {
		window = window[len(window)-WindowTurns:]
	}

	out := make([]completion.Message, 0, len(window)+3)
	out = append(out,
		completion.Message{Role: memory.RoleSystem, Content: persona},
		completion.Message{Role: memory.RoleSystem, Content: Background(summary)},
	)
	for _, t := range window {
		out = append(out, completion.Message{Role: t.Role, Content: t.Content})
	}
	return append(out, completion.Message{Role: memory.RoleUser, Content: message})
}

// Background renders the second system message.
func Background(summary string) string {
	if summary == "" {
		return conversationHeader
	}
	return backgroundPreamble + summary + "\n\n---\n\n" + conversationHeader
}

func (b *Builder) history(ctx context.Context, userID, excludeTurnID string) []memory.Turn {
	limit := FetchTurns
	if excludeTurnID != "" {
		limit++
	}
	turns, err := b.store.RecentTurns(ctx, userID, limit)
	if err != nil {
		b.logger.Warn("fetch history failed, continuing without it", zap.String("user_id", userID), zap.Error(err))
		return nil
	}

	out := make([]memory.Turn, 0, len(turns))
	for _, t := range turns {
		if excludeTurnID != "" && t.ID == excludeTurnID {
			continue
		}
		out = append(out, t)
	}
	if len(out) > FetchTurns {
		out = out[len(out)-FetchTurns:]
	}
	return out
}

func (b *Builder) summary(ctx context.Context, userID string) string {
	text, ok, err := b.store.LatestSummary(ctx, userID)
	if err != nil {
		b.logger.Warn("fetch summary failed, continuing without it", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return text
}

// LoadPersona reads the persona text from path, falling back to
// FallbackPersona when the file is missing, unreadable or empty.
func LoadPersona(path string, logger *zap.Logger) string {
	if logger == nil {
		logger = zap.NewNop()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("persona file not found, using fallback", zap.String("path", path))
		} else {
			logger.Error("read persona failed, using fallback", zap.String("path", path), zap.Error(err))
		}
		return FallbackPersona
	}
	persona := strings.TrimSpace(string(raw))
	if persona == "" {
		return FallbackPersona
	}
	return persona
}
