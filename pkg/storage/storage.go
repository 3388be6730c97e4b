package storage

import (
	"context"
	"time"
)

// Message is a persisted conversation message.
type Message struct {
	ID                   string         `json:"id"`
	ConversationID       string         `json:"conversation_id"`
	Role                 string         `json:"role"`
	Content              string         `json:"content"`
	ModelConfigurationID string         `json:"model_configuration_id,omitempty"`
	ParentID             string         `json:"parent_id,omitempty"`
	VariantIndex         int            `json:"variant_index"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// SaveMessageParams carries everything needed to persist one message. The
// store assigns the message id and timestamp.
type SaveMessageParams struct {
	ConversationID       string
	Role                 string
	Content              string
	ModelConfigurationID string
	ParentID             string
	VariantIndex         int
	Metadata             map[string]any
}

// MessageStore persists conversation messages.
type MessageStore interface {
	// SaveMessage persists a message and returns it with its assigned id.
	SaveMessage(ctx context.Context, params SaveMessageParams) (*Message, error)

	// GetMessage retrieves a message by id. Returns ErrNotFound when the
	// message does not exist.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ListConversation returns a conversation's messages in creation order.
	ListConversation(ctx context.Context, conversationID string) ([]Message, error)
}

// UsageRecord captures token consumption and outcome of one provider call.
type UsageRecord struct {
	ProviderID     string
	Model          string
	RequestType    string
	InputTokens    int
	OutputTokens   int
	Cost           float64
	ResponseTimeMs int64
	Success        bool
	ErrorMessage   string
}

// Request types recorded with usage.
const (
	RequestTypeChat       = "chat"
	RequestTypeChatStream = "chat_stream"
)

// UsageRecorder records per-call usage for billing and diagnostics.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
}

// Store combines the persistence contracts a deployment must provide.
type Store interface {
	MessageStore
	UsageRecorder

	// Close releases the store's resources.
	Close() error
}
