package api

// OutboundKind classifies an event on the outbound client stream.
type OutboundKind string

const (
	OutboundContentDelta   OutboundKind = "content_delta"
	OutboundReasoningDelta OutboundKind = "reasoning_delta"
	OutboundFinalMessage   OutboundKind = "final_message"
	OutboundUserMessage    OutboundKind = "user_message"
	OutboundError          OutboundKind = "error"
)

// Terminal reports whether the kind ends a variant's contribution to the
// stream. Exactly one terminal event is emitted per variant.
func (k OutboundKind) Terminal() bool {
	return k == OutboundFinalMessage || k == OutboundError
}

// OutboundEvent is one frame-worth of data on the outbound stream. Events
// are produced only by the orchestrator/encoder layer and never persisted
// directly; persistence is a side effect triggered on final_message.
type OutboundEvent struct {
	Kind OutboundKind `json:"event"`

	VariantIndex         int    `json:"variant_index"`
	ModelConfigurationID string `json:"model_configuration_id,omitempty"`
	ModelName            string `json:"model_name,omitempty"`
	ModelDisplayName     string `json:"model_display_name,omitempty"`

	// Content carries delta text, the final message body, or the
	// (sanitized) error message, depending on Kind.
	Content string `json:"content,omitempty"`

	// MessageID is set on final_message and user_message events once the
	// message has been persisted.
	MessageID string `json:"message_id,omitempty"`

	// Meta is populated on final_message events.
	Meta *FinalMeta `json:"meta,omitempty"`

	// Sources lists the retrieval sources cited by the final content.
	Sources []SourceRef `json:"sources,omitempty"`

	// Code and CorrelationID are set on encoder-generated error frames.
	Code          string `json:"code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload carries provider-specific extras. Kept as an open map so a
	// serialization failure in one event never affects its neighbors.
	Payload map[string]any `json:"payload,omitempty"`
}
