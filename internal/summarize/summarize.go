package summarize

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/litlabs-admin/daddyjohn/internal/completion"
	"github.com/litlabs-admin/daddyjohn/internal/memory"
)

const (
	// Every is the turn-count period that triggers a summary.
	Every = 20
	// SourceTurns is how many of the most recent turns are summarized.
	SourceTurns = 10

	Instruction = "Summarize the key points of this conversation in 1-2 sentences. Focus on the user's main concerns, emotional state, and any important context that should be remembered for future conversations."
)

var errEmptySummary = errors.New("empty summary")

// ShouldTrigger reports whether a conversation of n turns (counting the new
// message) is due for compaction.
func ShouldTrigger(n int) bool {
	return n > 0 && n%Every == 0
}

// Summarizer compacts recent turns into a stored summary.
type Summarizer struct {
	gateway    completion.Completer
	store      memory.Store
	timeout    time.Duration
	maxRetries int
	logger     *zap.Logger
}

func NewSummarizer(gateway completion.Completer, store memory.Store, timeout time.Duration, maxRetries int, logger *zap.Logger) *Summarizer {
	if timeout <= 0 {
		timeout = completion.SummaryTimeout
	}
	if maxRetries < 1 {
		maxRetries = completion.DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{
		gateway:    gateway,
		store:      store,
		timeout:    timeout,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Prompt builds the summarization request from the last SourceTurns turns.
func Prompt(history []memory.Turn) []completion.Message {
	if len(history) > SourceTurns {
		history = history[len(history)-SourceTurns:]
	}
	out := make([]completion.Message, 0, len(history)+1)
	out = append(out, completion.Message{Role: memory.RoleSystem, Content: Instruction})
	for _, t := range history {
		out = append(out, completion.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

// Summarize stores a new summary for userID. Nothing is stored when the
// upstream call fails or returns blank text.
func (s *Summarizer) Summarize(ctx context.Context, userID string, history []memory.Turn) error {
	if len(history) == 0 {
		return nil
	}
	text, err := s.gateway.Complete(ctx, Prompt(history), s.timeout, s.maxRetries)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errEmptySummary
	}
	if err := s.store.AppendSummary(ctx, userID, text); err != nil {
		return err
	}
	s.logger.Info("stored conversation summary", zap.String("user_id", userID))
	return nil
}
