package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/litlabs-admin/daddyjohn/internal/auth"
	"github.com/litlabs-admin/daddyjohn/internal/completion"
	"github.com/litlabs-admin/daddyjohn/internal/memory"
	"github.com/litlabs-admin/daddyjohn/internal/observability"
	"github.com/litlabs-admin/daddyjohn/internal/policy"
	"github.com/litlabs-admin/daddyjohn/internal/prompt"
	"github.com/litlabs-admin/daddyjohn/internal/summarize"
)

const (
	GreetingReply = "Hey there! What's on your mind today?"
	TroubleReply  = "I'm having a bit of trouble right now, but I'm here for you. Can you try asking me again?"
)

// Dispatcher hands a conversation off for background summarization.
type Dispatcher interface {
	Dispatch(userID string, history []memory.Turn) bool
}

type Config struct {
	Mode        Mode
	ChatTimeout time.Duration
	MaxRetries  int
	PersonaName string
}

// Orchestrator runs one chat request from validation to the reply.
type Orchestrator struct {
	store     memory.Store
	builder   *prompt.Builder
	gateway   completion.Completer
	summaries Dispatcher
	cfg       Config
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewOrchestrator(
	store memory.Store,
	builder *prompt.Builder,
	gateway completion.Completer,
	summaries Dispatcher,
	cfg Config,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	if cfg.Mode == "" {
		cfg.Mode = ModeLenient
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = completion.ChatTimeout
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = completion.DefaultMaxRetries
	}
	if cfg.PersonaName == "" {
		cfg.PersonaName = completion.PersonaName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		builder:   builder,
		gateway:   gateway,
		summaries: summaries,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

func (o *Orchestrator) Mode() Mode { return o.cfg.Mode }

// Handle answers raw on behalf of id. In lenient mode the error is always
// nil. In strict mode it is a *ValidationError or a *completion.UpstreamError.
// Persistence failures never fail the request.
func (o *Orchestrator) Handle(ctx context.Context, id auth.Identity, raw string) (reply string, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			if o.cfg.Mode == ModeStrict {
				panic(r)
			}
			o.logger.Error("chat request panicked", zap.String("user_id", id.UserID), zap.String("panic", fmt.Sprint(r)))
			o.outcome("recovered")
			reply, err = TroubleReply, nil
		}
		o.stage("total", start)
	}()

	message := policy.Sanitize(raw)
	if message == "" {
		if o.cfg.Mode == ModeStrict {
			o.outcome("rejected")
			return "", &ValidationError{Kind: EmptyMessage}
		}
		o.outcome("greeting")
		return GreetingReply, nil
	}
	o.logger.Info("chat message received",
		zap.String("user_id", id.UserID),
		zap.String("excerpt", policy.LogExcerpt(message)),
	)

	stageStart := time.Now()
	userTurn, storeErr := o.store.AppendTurn(ctx, id.UserID, memory.RoleUser, message)
	stored := storeErr == nil
	if !stored {
		o.persistFailed("append_user_turn", id.UserID, storeErr)
	}
	o.stage("persist_user", stageStart)

	stageStart = time.Now()
	var built prompt.Result
	if stored {
		built = o.builder.Build(ctx, id.UserID, message, userTurn.ID)
	} else {
		built = prompt.Result{Messages: prompt.Compose(o.builder.Persona(), "", nil, message)}
	}
	o.stage("context", stageStart)

	stageStart = time.Now()
	text, upstreamErr := o.gateway.Complete(ctx, built.Messages, o.cfg.ChatTimeout, o.cfg.MaxRetries)
	o.stage("completion", stageStart)
	if upstreamErr != nil {
		o.logger.Warn("completion failed",
			zap.String("user_id", id.UserID),
			zap.String("kind", string(completion.KindOf(upstreamErr))),
			zap.Error(upstreamErr),
		)
		if o.cfg.Mode == ModeStrict {
			o.outcome("upstream_error")
			return "", upstreamErr
		}
		reply = completion.Apology(upstreamErr)
	} else {
		reply = completion.Clean(text, o.cfg.PersonaName)
	}

	if stored {
		stageStart = time.Now()
		if _, err := o.store.AppendTurn(ctx, id.UserID, memory.RoleAssistant, reply); err != nil {
			o.persistFailed("append_assistant_turn", id.UserID, err)
		}
		o.stage("persist_reply", stageStart)

		if len(built.History) > 0 && summarize.ShouldTrigger(len(built.History)+1) && o.summaries != nil {
			if o.summaries.Dispatch(id.UserID, built.History) {
				o.logger.Info("summarization dispatched", zap.String("user_id", id.UserID), zap.Int("turns", len(built.History)+1))
			}
		}
	}

	if upstreamErr != nil {
		o.outcome("degraded")
	} else {
		o.outcome("ok")
	}
	return reply, nil
}

func (o *Orchestrator) persistFailed(op, userID string, err error) {
	o.logger.Error("persistence failed", zap.String("op", op), zap.String("user_id", userID), zap.Error(err))
	if o.metrics != nil {
		o.metrics.PersistenceErrors.WithLabelValues(op).Inc()
	}
}

func (o *Orchestrator) stage(name string, start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveStage(name, time.Since(start))
	}
}

func (o *Orchestrator) outcome(name string) {
	if o.metrics != nil {
		o.metrics.ChatOutcomes.WithLabelValues(name).Inc()
	}
}
