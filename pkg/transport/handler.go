package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Open-Shu/shu-sub001/pkg/api"
	"github.com/Open-Shu/shu-sub001/pkg/observability"
)

// TurnRequest is the POST /v1/turns payload.
type TurnRequest struct {
	// ConversationID scopes the turn. A new conversation is started when
	// empty.
	ConversationID string `json:"conversation_id,omitempty"`

	// Message is the user's new message for this turn.
	Message string `json:"message"`

	// History is the prior rendered conversation, oldest first. The server
	// appends Message as the final user entry.
	History []api.Message `json:"history,omitempty"`

	// SystemPrompt is prepended to every variant's context when non-empty.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// ModelConfigurationID selects the primary model configuration. The
	// server default is used when empty.
	ModelConfigurationID string `json:"model_configuration_id,omitempty"`

	// EnsembleConfigurationIDs name extra configurations to run alongside
	// the primary.
	EnsembleConfigurationIDs []string `json:"ensemble_configuration_ids,omitempty"`

	// Params are per-request parameter overrides, merged over each
	// configuration's stored overrides.
	Params map[string]any `json:"params,omitempty"`

	// ToolsEnabled permits tool calling for this turn.
	ToolsEnabled bool `json:"tools_enabled,omitempty"`
}

// TurnStarter validates a turn request and starts its execution. The
// returned channel carries the turn's outbound events and is closed when
// every variant has terminated. A non-nil error means nothing was started.
type TurnStarter interface {
	StartTurn(ctx context.Context, req *TurnRequest) (<-chan api.OutboundEvent, *api.Error)
}

// TurnStarterFunc adapts an ordinary function to TurnStarter.
type TurnStarterFunc func(ctx context.Context, req *TurnRequest) (<-chan api.OutboundEvent, *api.Error)

// StartTurn calls f(ctx, req).
func (f TurnStarterFunc) StartTurn(ctx context.Context, req *TurnRequest) (<-chan api.OutboundEvent, *api.Error) {
	return f(ctx, req)
}

// Handler serves the turn endpoints.
type Handler struct {
	starter     TurnStarter
	encoder     *Encoder
	inflight    *InFlightRegistry
	maxBodySize int64
}

// NewHandler creates a Handler streaming through the given encoder.
func NewHandler(starter TurnStarter, encoder *Encoder, maxBodySize int64) *Handler {
	if encoder == nil {
		encoder = NewEncoder()
	}
	return &Handler{
		starter:     starter,
		encoder:     encoder,
		inflight:    NewInFlightRegistry(),
		maxBodySize: maxBodySize,
	}
}

// Register mounts the turn routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/turns", h.handleCreateTurn)
	mux.HandleFunc("DELETE /v1/turns/{id}", h.handleCancelTurn)
}

// handleCreateTurn runs one turn and streams its events. Every response
// body after the headers is the outbound wire protocol; request validation
// failures are plain JSON errors.
func (h *Handler) handleCreateTurn(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		WriteError(w, api.NewConfigurationError("unsupported content type"), http.StatusUnsupportedMediaType)
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var req TurnRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		WriteError(w, api.NewConfigurationError("invalid request body: "+err.Error()), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		WriteError(w, api.NewConfigurationError("message is required"), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, derr := h.starter.StartTurn(ctx, &req)
	if derr != nil {
		WriteDomainError(w, derr)
		return
	}

	turnID := uuid.NewString()
	h.inflight.Register(turnID, cancel)
	defer h.inflight.Remove(turnID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Turn-ID", turnID)
	w.WriteHeader(http.StatusOK)
	flush(w)

	observability.StreamingConnections.Inc()
	defer observability.StreamingConnections.Dec()

	h.encoder.Encode(ctx, ChannelSource(events), w)
}

// handleCancelTurn cancels a running turn by ID.
func (h *Handler) handleCancelTurn(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.inflight.Cancel(id) {
		WriteError(w, api.NewConfigurationError("no running turn with id "+id), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
