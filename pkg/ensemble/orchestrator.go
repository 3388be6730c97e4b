package ensemble

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Open-Shu/shu-sub001/pkg/api"
	"github.com/Open-Shu/shu-sub001/pkg/debug"
	"github.com/Open-Shu/shu-sub001/pkg/observability"
	"github.com/Open-Shu/shu-sub001/pkg/provider"
	"github.com/Open-Shu/shu-sub001/pkg/storage"
)

const (
	defaultMaxToolRounds = 8
	defaultQueueSize     = 64

	// errorSnapshotContent is persisted in place of a reply when a variant
	// fails, so the conversation history shows the gap.
	errorSnapshotContent = "I wasn't able to generate a response. Please try again."
)

// Turn describes one logical chat turn to orchestrate.
type Turn struct {
	// ConversationID scopes persistence.
	ConversationID string

	// UserMessageID is the parent for all persisted replies.
	UserMessageID string

	// UserMessage, when set, is echoed to the consumer as a user_message
	// event before any variant output (it has already been persisted by
	// the caller).
	UserMessage *storage.Message

	// Variants are the turn's participants, built with BuildVariants.
	Variants []Variant
}

// Orchestrator fans a turn out to its variants and fans their events back
// into a single stream. Safe for concurrent use; one Run per turn.
type Orchestrator struct {
	store         storage.MessageStore
	usage         storage.UsageRecorder
	refs          ReferenceResolver
	tools         ToolRegistry
	maxToolRounds int
	queueSize     int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReferenceResolver wires citation reconciliation into the final-message
// path.
func WithReferenceResolver(r ReferenceResolver) Option {
	return func(o *Orchestrator) { o.refs = r }
}

// WithToolRegistry wires tool support for variants with tools enabled.
func WithToolRegistry(t ToolRegistry) Option {
	return func(o *Orchestrator) { o.tools = t }
}

// WithMaxToolRounds caps tool-call re-invocations per variant.
func WithMaxToolRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxToolRounds = n
		}
	}
}

// WithQueueSize sets the shared event queue's buffer.
func WithQueueSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// New creates an Orchestrator persisting through the given collaborators.
func New(store storage.MessageStore, usage storage.UsageRecorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         store,
		usage:         usage,
		maxToolRounds: defaultMaxToolRounds,
		queueSize:     defaultQueueSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the turn. The returned channel delivers events in queue
// arrival order (interleaved across variants, strictly ordered within one)
// and is closed once every variant has terminated. Exactly one terminal
// event (final_message or error) is emitted per variant unless ctx is
// cancelled first; cancellation joins all variant tasks before the channel
// closes, so no task outlives the stream.
func (o *Orchestrator) Run(ctx context.Context, turn *Turn) <-chan api.OutboundEvent {
	out := make(chan api.OutboundEvent, o.queueSize)

	go func() {
		defer close(out)

		if turn.UserMessage != nil {
			emit(ctx, out, api.OutboundEvent{
				Kind:      api.OutboundUserMessage,
				MessageID: turn.UserMessage.ID,
				Content:   turn.UserMessage.Content,
			})
		}

		var wg sync.WaitGroup
		for i := range turn.Variants {
			v := &turn.Variants[i]
			wg.Add(1)
			go func() {
				defer wg.Done()
				o.runVariant(ctx, turn, v, out)
			}()
		}
		wg.Wait()
	}()

	return out
}

// runVariant drives one variant through its call loop to a terminal event.
func (o *Orchestrator) runVariant(ctx context.Context, turn *Turn, v *Variant, out chan<- api.OutboundEvent) {
	start := time.Now()
	caps := v.Config.Provider.Capabilities()

	req := &provider.Request{
		Model:        v.Config.Model,
		SystemPrompt: v.SystemPrompt,
		Params:       v.Config.Params,
		Timeout:      v.Config.Timeout,
	}
	if v.Config.ToolsEnabled && caps.ToolCalling && o.tools != nil {
		req.Tools = o.tools.BuildAgentTools()
	}

	messages := make([]api.Message, len(v.Messages))
	copy(messages, v.Messages)

	streaming := caps.Streaming

	var (
		final *provider.ProviderEvent
		derr  *api.Error
	)
	for round := 0; round < o.maxToolRounds; round++ {
		req.Messages = messages

		var followups []api.Message
		final, followups, derr = o.invoke(ctx, v, req, streaming, out)
		if derr != nil {
			break
		}
		if len(followups) > 0 {
			// Tool round: extend the working conversation and call again.
			debug.Log("ensemble", "tool round",
				"variant", v.Index,
				"round", round,
				"followups", len(followups),
			)
			messages = append(messages, followups...)
			final = nil
			continue
		}
		if final == nil {
			derr = api.NewNoFinalMessageError()
		}
		break
	}
	if derr == nil && final == nil {
		derr = api.NewProviderError("tool call limit reached without a final answer")
	}

	if ctx.Err() != nil {
		// Consumer disconnected; no terminal to deliver.
		observability.EnsembleVariantsTotal.WithLabelValues("cancelled").Inc()
		return
	}

	if derr != nil {
		o.finishError(ctx, turn, v, derr, streaming, start, out)
		return
	}
	o.finishFinal(ctx, turn, v, final, streaming, start, out)
}

// invoke performs one provider call iteration, forwarding delta events to
// the queue. It returns the terminal Final (if any), tool follow-up
// messages collected from ToolCall events, and the classified failure.
func (o *Orchestrator) invoke(ctx context.Context, v *Variant, req *provider.Request, streaming bool, out chan<- api.OutboundEvent) (*provider.ProviderEvent, []api.Message, *api.Error) {
	prov := v.Config.Provider
	start := time.Now()

	var events <-chan provider.ProviderEvent
	if streaming {
		ch, err := prov.Stream(ctx, req)
		if err != nil {
			o.recordCall(prov.Name(), v.Config.Model, start, false)
			return nil, nil, classify(err)
		}
		events = ch
	} else {
		list, err := prov.Complete(ctx, req)
		if err != nil {
			o.recordCall(prov.Name(), v.Config.Model, start, false)
			return nil, nil, classify(err)
		}
		buf := make(chan provider.ProviderEvent, len(list))
		for _, ev := range list {
			buf <- ev
		}
		close(buf)
		events = buf
	}

	var (
		final     *provider.ProviderEvent
		followups []api.Message
		derr      *api.Error
	)
	for ev := range events {
		switch ev.Type {
		case provider.ProviderEventContentDelta:
			emit(ctx, out, o.variantEvent(v, api.OutboundContentDelta, ev.Text))

		case provider.ProviderEventReasoningDelta:
			emit(ctx, out, o.variantEvent(v, api.OutboundReasoningDelta, ev.Text))

		case provider.ProviderEventToolCall:
			followups = append(followups, ev.Followup...)

		case provider.ProviderEventFinal:
			evCopy := ev
			final = &evCopy

		case provider.ProviderEventError:
			derr = ev.Err
		}
	}

	if derr != nil {
		o.recordCall(prov.Name(), v.Config.Model, start, false)
		return nil, nil, derr
	}

	o.recordCall(prov.Name(), v.Config.Model, start, true)
	if final != nil && final.Meta != nil && final.Meta.Usage != nil {
		observability.ProviderTokensTotal.WithLabelValues(prov.Name(), v.Config.Model, "input").Add(float64(final.Meta.Usage.InputTokens))
		observability.ProviderTokensTotal.WithLabelValues(prov.Name(), v.Config.Model, "output").Add(float64(final.Meta.Usage.OutputTokens))
	}

	if len(followups) > 0 {
		// A tool round supersedes any Final from the same iteration.
		return nil, followups, nil
	}
	return final, nil, nil
}

// finishFinal runs reference post-processing, persists the reply, records
// usage, and emits the final_message event.
func (o *Orchestrator) finishFinal(ctx context.Context, turn *Turn, v *Variant, final *provider.ProviderEvent, streaming bool, start time.Time, out chan<- api.OutboundEvent) {
	content := final.Content
	sources := v.Config.Sources

	if o.refs != nil && (len(sources) > 0 || v.Config.KnowledgeBaseID != "") {
		processed, used, err := o.refs.PostProcessReferences(ctx, content, sources, v.Config.KnowledgeBaseID)
		if err != nil {
			slog.Warn("reference post-processing failed",
				"variant", v.Index,
				"error", err.Error(),
			)
		} else {
			// Appended trailing content reaches the consumer as one more
			// delta before the final event.
			if appended, ok := strings.CutPrefix(processed, content); ok && appended != "" {
				emit(ctx, out, o.variantEvent(v, api.OutboundContentDelta, appended))
			}
			content = processed
			sources = used
		}
	}

	meta := final.Meta
	if meta == nil {
		meta = &api.FinalMeta{Model: v.Config.Model}
	}
	if meta.ResponseTimeMs == 0 {
		meta.ResponseTimeMs = time.Since(start).Milliseconds()
	}

	messageID := api.NewMessageID()
	saved, err := o.store.SaveMessage(ctx, storage.SaveMessageParams{
		ConversationID:       turn.ConversationID,
		Role:                 api.RoleAssistant,
		Content:              content,
		ModelConfigurationID: v.Config.ConfigurationID,
		ParentID:             turn.UserMessageID,
		VariantIndex:         v.Index,
		Metadata:             finalMetadata(meta),
	})
	if err != nil {
		slog.Error("failed to persist assistant message",
			"variant", v.Index,
			"conversation", turn.ConversationID,
			"error", err.Error(),
		)
	} else {
		messageID = saved.ID
	}

	o.recordUsage(ctx, v, meta, streaming, start, true, "")

	ev := o.variantEvent(v, api.OutboundFinalMessage, content)
	ev.MessageID = messageID
	ev.Meta = meta
	ev.Sources = sources
	emit(ctx, out, ev)

	observability.EnsembleVariantsTotal.WithLabelValues("final").Inc()
}

// finishError persists an error snapshot, records failed usage, and emits
// the error event. Error events count as terminal for completion tracking.
func (o *Orchestrator) finishError(ctx context.Context, turn *Turn, v *Variant, derr *api.Error, streaming bool, start time.Time, out chan<- api.OutboundEvent) {
	slog.Error("variant failed",
		"variant", v.Index,
		"provider", v.Config.Provider.Name(),
		"model", v.Config.Model,
		"error", derr.Error(),
	)

	_, err := o.store.SaveMessage(ctx, storage.SaveMessageParams{
		ConversationID:       turn.ConversationID,
		Role:                 api.RoleAssistant,
		Content:              errorSnapshotContent,
		ModelConfigurationID: v.Config.ConfigurationID,
		ParentID:             turn.UserMessageID,
		VariantIndex:         v.Index,
		Metadata: map[string]any{
			"error":      derr.Message,
			"error_type": string(derr.Type),
		},
	})
	if err != nil {
		slog.Error("failed to persist error snapshot",
			"variant", v.Index,
			"error", err.Error(),
		)
	}

	o.recordUsage(ctx, v, nil, streaming, start, false, derr.Message)

	ev := o.variantEvent(v, api.OutboundError, derr.Message)
	ev.Code = string(derr.Type)
	emit(ctx, out, ev)

	observability.EnsembleVariantsTotal.WithLabelValues("error").Inc()
}

// variantEvent stamps an event with the variant's identifiers.
func (o *Orchestrator) variantEvent(v *Variant, kind api.OutboundKind, content string) api.OutboundEvent {
	return api.OutboundEvent{
		Kind:                 kind,
		VariantIndex:         v.Index,
		ModelConfigurationID: v.Config.ConfigurationID,
		ModelName:            v.Config.Model,
		ModelDisplayName:     v.Config.DisplayName,
		Content:              content,
	}
}

func (o *Orchestrator) recordCall(providerName, model string, start time.Time, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	observability.ProviderRequestsTotal.WithLabelValues(providerName, model, status).Inc()
	observability.ProviderLatency.WithLabelValues(providerName, model).Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) recordUsage(ctx context.Context, v *Variant, meta *api.FinalMeta, streaming bool, start time.Time, success bool, errMessage string) {
	rec := storage.UsageRecord{
		ProviderID:     v.Config.ConfigurationID,
		Model:          v.Config.Model,
		RequestType:    storage.RequestTypeChat,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		Success:        success,
		ErrorMessage:   errMessage,
	}
	if streaming {
		rec.RequestType = storage.RequestTypeChatStream
	}
	if meta != nil && meta.Usage != nil {
		rec.InputTokens = meta.Usage.InputTokens
		rec.OutputTokens = meta.Usage.OutputTokens
		rec.Cost = meta.Usage.Cost
	}
	if err := o.usage.RecordUsage(ctx, rec); err != nil {
		slog.Warn("failed to record usage",
			"variant", v.Index,
			"error", err.Error(),
		)
	}
}

// finalMetadata flattens FinalMeta for the message metadata column.
func finalMetadata(meta *api.FinalMeta) map[string]any {
	md := map[string]any{}
	if meta.Model != "" {
		md["model"] = meta.Model
	}
	if meta.FinishReason != "" {
		md["finish_reason"] = meta.FinishReason
	}
	if meta.ResponseTimeMs > 0 {
		md["response_time_ms"] = meta.ResponseTimeMs
	}
	if meta.Usage != nil {
		md["input_tokens"] = meta.Usage.InputTokens
		md["output_tokens"] = meta.Usage.OutputTokens
		md["total_tokens"] = meta.Usage.TotalTokens
	}
	return md
}

// classify normalizes an error returned by a provider call into the domain
// taxonomy. Provider clients already return *api.Error; anything else is an
// internal fault wrapped as a provider error.
func classify(err error) *api.Error {
	var derr *api.Error
	if errors.As(err, &derr) {
		return derr
	}
	perr := api.NewProviderError("provider call failed: " + err.Error())
	perr.Cause = err
	return perr
}

// emit pushes an event unless the consumer's context is cancelled.
func emit(ctx context.Context, out chan<- api.OutboundEvent, ev api.OutboundEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
