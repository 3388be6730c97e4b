package openaicompat

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Open-Shu/shu-sub001/pkg/api"
	"github.com/Open-Shu/shu-sub001/pkg/provider"
)

// toolCallBuffer assembles one tool call's arguments across chunks.
type toolCallBuffer struct {
	id   string
	name string
	args strings.Builder
}

// chunkDecoder translates streamed Chat Completions chunks into normalized
// events. It is stateful per stream: content is accumulated for the Final
// event, tool call fragments are buffered until the stream ends, and a
// trailing usage-only chunk (stream_options.include_usage) updates the
// pending Final.
type chunkDecoder struct {
	content      strings.Builder
	toolCalls    map[int]*toolCallBuffer
	model        string
	finishReason string
	usage        *chatUsage
	finished     bool
}

func newChunkDecoder() *chunkDecoder {
	return &chunkDecoder{toolCalls: make(map[int]*toolCallBuffer)}
}

// Decode handles one parsed chunk and returns at most one event. Content
// deltas pass through immediately; tool call fragments are buffered
// silently and flushed by Finalize.
func (d *chunkDecoder) Decode(raw json.RawMessage) (*provider.ProviderEvent, error) {
	var chunk chatChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return nil, fmt.Errorf("invalid stream chunk: %w", err)
	}
	if chunk.Model != "" {
		d.model = chunk.Model
	}
	if chunk.Usage != nil {
		d.usage = chunk.Usage
	}

	if len(chunk.Choices) == 0 {
		// Usage-only chunk. If the stream already finished, re-issue the
		// Final so the updated usage replaces the pending terminal.
		if chunk.Usage != nil && d.finished {
			ev := d.finalEvent()
			return &ev, nil
		}
		return nil, nil
	}

	choice := chunk.Choices[0]
	delta := choice.Delta

	for _, tc := range delta.ToolCalls {
		buf, ok := d.toolCalls[tc.Index]
		if !ok {
			buf = &toolCallBuffer{id: tc.ID, name: tc.Function.Name}
			d.toolCalls[tc.Index] = buf
		}
		if buf.id == "" {
			buf.id = tc.ID
		}
		if buf.name == "" {
			buf.name = tc.Function.Name
		}
		buf.args.WriteString(tc.Function.Arguments)
	}

	if delta.Content != nil && *delta.Content != "" {
		d.content.WriteString(*delta.Content)
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		d.finishReason = *choice.FinishReason
		d.finished = true
		ev := d.finalEvent()
		return &ev, nil
	}

	if delta.Content != nil && *delta.Content != "" {
		return &provider.ProviderEvent{
			Type: provider.ProviderEventContentDelta,
			Text: *delta.Content,
		}, nil
	}

	if delta.ReasoningContent != nil && *delta.ReasoningContent != "" {
		return &provider.ProviderEvent{
			Type: provider.ProviderEventReasoningDelta,
			Text: *delta.ReasoningContent,
		}, nil
	}

	// Role-only or empty delta: nothing to emit.
	return nil, nil
}

// Finalize flushes buffered tool calls as a single ToolCall event, with the
// calls ordered by their stream index and the accumulated assistant text as
// narration.
func (d *chunkDecoder) Finalize() []provider.ProviderEvent {
	if len(d.toolCalls) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(d.toolCalls))
	for idx := range d.toolCalls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]api.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		buf := d.toolCalls[idx]
		calls = append(calls, api.ToolCall{
			ID:   buf.id,
			Type: "function",
			Function: api.FunctionCall{
				Name:      buf.name,
				Arguments: buf.args.String(),
			},
		})
	}
	d.toolCalls = make(map[int]*toolCallBuffer)

	return []provider.ProviderEvent{{
		Type:      provider.ProviderEventToolCall,
		Narration: d.content.String(),
		Calls:     calls,
	}}
}

// finalEvent builds the terminal event from the accumulated state.
func (d *chunkDecoder) finalEvent() provider.ProviderEvent {
	ev := provider.ProviderEvent{
		Type:    provider.ProviderEventFinal,
		Content: d.content.String(),
		Meta: &api.FinalMeta{
			Model:        d.model,
			FinishReason: d.finishReason,
		},
	}
	if d.usage != nil {
		ev.Meta.Usage = convertUsage(d.usage)
	}
	return ev
}
