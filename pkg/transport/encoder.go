package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/Open-Shu/shu-sub001/pkg/api"
)

// doneFrame is the fixed terminal sentinel. It is always the last frame on
// the wire, regardless of how the stream ended.
const doneFrame = "data: [DONE]\n\n"

// genericErrorCode is sent on frames generated for a source failure. The
// client gets only this code and a correlation id; details stay in the
// server log.
const genericErrorCode = "stream_error"

// Source yields outbound events one at a time. Next returns io.EOF on clean
// end of stream; any other error means the source itself failed.
type Source interface {
	Next(ctx context.Context) (api.OutboundEvent, error)
}

// ChannelSource adapts an event channel, such as the orchestrator's run
// output, to the Source interface.
type ChannelSource <-chan api.OutboundEvent

// Next waits for the next event. A closed channel is a clean end of stream.
func (c ChannelSource) Next(ctx context.Context) (api.OutboundEvent, error) {
	select {
	case ev, ok := <-c:
		if !ok {
			return api.OutboundEvent{}, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return api.OutboundEvent{}, ctx.Err()
	}
}

// Encoder serializes an event source to the outbound wire protocol.
type Encoder struct {
	sanitizer Sanitizer
	logger    *slog.Logger
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithSanitizer replaces the error-message sanitizer. Pass nil to disable
// sanitization entirely.
func WithSanitizer(s Sanitizer) EncoderOption {
	return func(e *Encoder) { e.sanitizer = s }
}

// WithEncoderLogger sets the structured logger.
func WithEncoderLogger(l *slog.Logger) EncoderOption {
	return func(e *Encoder) { e.logger = l }
}

// NewEncoder creates an Encoder with the default sanitizer.
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{
		sanitizer: DefaultSanitizer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode drains the source, writing one frame per event, and finishes with
// the terminal sentinel. The sentinel is written on every exit path; a
// failure while writing it is swallowed because the connection is assumed
// already gone at that point.
//
// Context cancellation is the consumer walking away and is a normal
// termination, not an error. A write failure likewise ends the stream
// quietly. Only a failure of the source itself produces an error frame,
// carrying a correlation id instead of the failure text.
func (e *Encoder) Encode(ctx context.Context, src Source, w io.Writer) error {
	defer func() {
		io.WriteString(w, doneFrame)
		flush(w)
	}()

	for {
		ev, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			// Source failure: log the details server-side, hand the client
			// only a correlation id.
			correlationID := uuid.NewString()
			e.logger.Error("event source failed",
				"correlation_id", correlationID,
				"error", err.Error(),
			)
			e.writeFrame(w, api.OutboundEvent{
				Kind:          api.OutboundError,
				Code:          genericErrorCode,
				CorrelationID: correlationID,
				Content:       "an internal error interrupted the stream",
			})
			return nil
		}

		if ev.Kind == api.OutboundError && e.sanitizer != nil {
			ev.Content = e.sanitizer(ev.Content)
		}

		if err := e.writeFrame(w, ev); err != nil {
			// Consumer is gone; nothing left to deliver except the
			// best-effort sentinel.
			return nil
		}
	}
}

// writeFrame serializes one event into a single wire frame. A marshal
// failure skips the event and keeps the stream alive; only write failures
// are returned.
func (e *Encoder) writeFrame(w io.Writer, ev api.OutboundEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Warn("dropping unserializable event",
			"kind", string(ev.Kind),
			"variant", ev.VariantIndex,
			"error", err.Error(),
		)
		return nil
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flush(w)
	return nil
}

// flush pushes buffered data to the client when the writer supports it.
func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
