// Package agent drives the conversational loop: compose context, call
// the model, dispatch tool calls it requests, and deliver a final reply.
// Generate never returns an error; failure paths collapse into fixed,
// user-safe apology texts so the caller can always show something.
package agent

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mihulabs/mihu/internal/config"
	"github.com/mihulabs/mihu/internal/observability"
	"github.com/mihulabs/mihu/internal/tracing"
	"github.com/mihulabs/mihu/pkg/commandqueue"
	"github.com/mihulabs/mihu/pkg/conversation"
	"github.com/mihulabs/mihu/pkg/respcache"
	"github.com/mihulabs/mihu/pkg/tools"
)

const (
	apologyHighDemand = "I'm currently experiencing high demand. Please try again in a moment."
	apologyTechnical  = "I'm currently experiencing technical difficulties. Please try again in a moment."

	// Prior turns sent to the model, system prompt excluded.
	composeWindow = 10
)

// Options wires the runner's collaborators. Provider may be nil when no
// credentials are configured; Generate then degrades to the technical
// apology without any network call.
type Options struct {
	AI       config.AIConfig
	Provider LLMProvider
	Store    *conversation.Store
	Cache    *respcache.Cache
	Tools    *tools.Executor
	Queue    *commandqueue.Queue
	Logger   zerolog.Logger
	Now      func() time.Time
	Sleep    func(time.Duration)
}

// Runner is the orchestration entry point for one process.
type Runner struct {
	ai       config.AIConfig
	provider LLMProvider
	store    *conversation.Store
	cache    *respcache.Cache
	tools    *tools.Executor
	queue    *commandqueue.Queue
	logger   zerolog.Logger
	now      func() time.Time
	sleep    func(time.Duration)
}

// New creates a runner.
func New(opts Options) *Runner {
	observability.EnsureRegistered()

	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}

	return &Runner{
		ai:       opts.AI,
		provider: opts.Provider,
		store:    opts.Store,
		cache:    opts.Cache,
		tools:    opts.Tools,
		queue:    opts.Queue,
		logger:   opts.Logger,
		now:      opts.Now,
		sleep:    opts.Sleep,
	}
}

// Generate produces the reply for one user message. Requests for the
// same session are serialized through the session's queue lane so
// history writes never interleave. The returned text is always safe to
// present to the user.
func (r *Runner) Generate(ctx context.Context, sessionID, userMessage string) string {
	value, err := r.queue.Enqueue(ctx, commandqueue.SessionLane(sessionID), func(ctx context.Context) (interface{}, error) {
		return r.run(ctx, sessionID, userMessage), nil
	})
	if err != nil {
		// Queue-level failure (shutdown); nothing was recorded.
		r.logger.Error().Err(err).Str("session_id", sessionID).Msg("Generate rejected by queue")
		return apologyTechnical
	}
	return value.(string)
}

func (r *Runner) run(ctx context.Context, sessionID, userMessage string) string {
	ctx, span := tracing.StartSpan(
		ctx,
		"mihu.agent",
		"agent.generate",
		attribute.String("session_id", sessionID),
	)
	defer span.End()
	ctx = tracing.WithSessionID(ctx, sessionID)

	logger := tracing.LoggerFromContext(ctx, r.logger)
	start := r.now()

	// Fingerprint uses the history as it stood before this message, so
	// the new message is not double-counted in the trailing window.
	history := r.store.Context(sessionID)
	fp := respcache.NewFingerprint(sessionID, history, userMessage)

	if cached, ok := r.cache.Get(fp); ok {
		r.store.Append(sessionID, conversation.RoleUser, userMessage)
		r.store.Append(sessionID, conversation.RoleAssistant, cached)
		logger.Info().Str("key", fp.Key).Msg("Reply served from cache")
		observability.RecordAgentRun(r.providerName(), r.now().Sub(start), true)
		return cached
	}

	r.store.Append(sessionID, conversation.RoleUser, userMessage)

	if r.provider == nil {
		logger.Warn().Msg("No provider credentials configured, returning apology")
		r.store.Append(sessionID, conversation.RoleAssistant, apologyTechnical)
		observability.RecordAgentRun(r.providerName(), r.now().Sub(start), false)
		return apologyTechnical
	}

	reply, ok := r.converse(ctx, logger, sessionID, userMessage, fp)
	observability.RecordAgentRun(r.providerName(), r.now().Sub(start), ok)
	return reply
}

// converse runs the model-call / tool-dispatch cycle. The bool result
// reports success; failure paths have already appended their apology.
func (r *Runner) converse(ctx context.Context, logger zerolog.Logger, sessionID, userMessage string, fp respcache.Fingerprint) (string, bool) {
	messages := r.compose(sessionID)
	schemas := r.tools.Schemas()

	for turn := 1; turn <= r.maxToolTurns(); turn++ {
		response, err := r.callWithRetry(ctx, logger, Request{
			Model:        r.ai.Model,
			SystemPrompt: SystemPrompt(r.now()),
			Messages:     messages,
			Tools:        schemas,
			Temperature:  r.ai.Temperature,
			MaxTokens:    r.ai.MaxTokens,
		})
		if err != nil {
			apology := apologyTechnical
			if IsTransient(err) {
				apology = apologyHighDemand
			}
			logger.Error().Err(err).Int("turn", turn).Msg("Provider call exhausted")
			r.store.Append(sessionID, conversation.RoleAssistant, apology)
			return apology, false
		}

		if len(response.ToolCalls) == 0 {
			reply := StripMarkdown(response.Content)
			r.store.Append(sessionID, conversation.RoleAssistant, reply)
			r.cache.Set(fp, reply, respcache.CategorizeMessage(userMessage))
			logger.Info().Int("turns", turn).Msg("Reply generated")
			return reply, true
		}

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})
		r.store.AppendMessage(sessionID, conversation.Message{
			Role:       conversation.RoleAssistant,
			Content:    response.Content,
			ToolCallID: response.ToolCalls[0].ID,
			ToolName:   response.ToolCalls[0].Name,
		})

		for _, call := range response.ToolCalls {
			logger.Debug().Str("tool", call.Name).Str("call_id", call.ID).Msg("Dispatching tool call")
			result := r.tools.Execute(ctx, call.Name, call.Arguments)
			messages = append(messages, Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
			r.store.AppendMessage(sessionID, conversation.Message{
				Role:       conversation.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
	}

	logger.Error().Int("max_turns", r.maxToolTurns()).Msg("Tool-call loop cap reached")
	r.store.Append(sessionID, conversation.RoleAssistant, apologyTechnical)
	return apologyTechnical, false
}

// compose builds the outbound message list from the trailing session
// history, which already includes the new user message. Tool-role turns
// from earlier runs are dropped: replaying a tool result without its
// originating tool_calls envelope is a provider protocol error, and the
// final assistant text already reflects it.
func (r *Runner) compose(sessionID string) []Message {
	history := r.store.Context(sessionID)

	messages := make([]Message, 0, len(history))
	for _, msg := range history {
		if msg.Role != conversation.RoleUser && msg.Role != conversation.RoleAssistant {
			continue
		}
		if msg.Content == "" {
			continue
		}
		messages = append(messages, Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	if len(messages) > composeWindow {
		messages = messages[len(messages)-composeWindow:]
	}
	return messages
}

// callWithRetry retries transient provider failures with exponential
// backoff (2^attempt seconds, attempt starting at 1) up to the retry
// budget; terminal failures return immediately.
func (r *Runner) callWithRetry(ctx context.Context, logger zerolog.Logger, req Request) (*Response, error) {
	maxRetries := r.ai.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		response, err := r.provider.Call(ctx, req)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !IsTransient(err) {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Terminal provider error")
			return nil, err
		}
		if attempt == maxRetries {
			break
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("Transient provider error, backing off")
		observability.RecordAgentRetry(r.providerName())
		r.sleep(wait)
	}
	return nil, lastErr
}

func (r *Runner) maxToolTurns() int {
	if r.ai.MaxToolTurns < 1 {
		return 8
	}
	return r.ai.MaxToolTurns
}

func (r *Runner) providerName() string {
	if r.provider == nil {
		return "none"
	}
	return r.provider.Name()
}

// CacheStats exposes cache counters for the admin surface.
func (r *Runner) CacheStats() respcache.Stats { return r.cache.Stats() }

// CacheInfo exposes cache configuration and counters.
func (r *Runner) CacheInfo() respcache.Info { return r.cache.Info() }

// ClearCache drops every cached reply.
func (r *Runner) ClearCache() { r.cache.Clear() }

// DeleteCacheEntry removes all cached replies for a raw message text,
// across sessions and trailing contexts.
func (r *Runner) DeleteCacheEntry(rawMessage string) bool {
	return r.cache.DeleteByMessage(rawMessage)
}

// ConversationStats exposes session store counters.
func (r *Runner) ConversationStats() conversation.Stats { return r.store.Stats() }

// ClearConversation drops one session's history.
func (r *Runner) ClearConversation(sessionID string) { r.store.Clear(sessionID) }

// ClearAllConversations drops every session.
func (r *Runner) ClearAllConversations() { r.store.ClearAll() }
