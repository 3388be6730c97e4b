package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/Open-Shu/shu-sub001/pkg/debug"
)

// decodeStream reads raw lines from an open upstream connection, feeds the
// JSON payloads to the adapter's chunk decoder, and sends normalized events
// on ch. The channel is NOT closed by this function; the caller owns it.
//
// Line discipline:
//   - blank lines and SSE control lines (event:, id:, retry:, leading ":")
//     are skipped
//   - an optional "data:" prefix is stripped
//   - a literal [DONE]/DONE payload is a clean end-of-stream signal
//   - fragments that cannot be JSON (not starting with "{" or "[") are
//     skipped without failing the stream
//   - a JSON parse failure skips that single line only
//
// Delta events are forwarded immediately. A terminal event returned by the
// chunk decoder is buffered (later returns replace it) and emitted only
// after the connection closes, followed by the decoder's Finalize output.
// A read error with no buffered terminal is translated and sent as an
// Error event.
func decodeStream(ctx context.Context, body io.Reader, dec ChunkDecoder, ch chan<- ProviderEvent) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var terminal *ProviderEvent

	send := func(ev ProviderEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") ||
			strings.HasPrefix(line, "event:") ||
			strings.HasPrefix(line, "id:") ||
			strings.HasPrefix(line, "retry:") {
			continue
		}

		payload := line
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			payload = strings.TrimSpace(rest)
		}

		if payload == "[DONE]" || payload == "DONE" {
			break
		}

		// Non-JSON noise between frames is tolerated.
		if payload == "" || (payload[0] != '{' && payload[0] != '[') {
			debug.Trace("providers", "skipping non-JSON stream fragment", "data", debug.Truncate(payload, 200))
			continue
		}

		var raw json.RawMessage
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			slog.Warn("skipping malformed stream chunk",
				"error", err.Error(),
				"data", debug.Truncate(payload, 200),
			)
			continue
		}

		ev, err := dec.Decode(raw)
		if err != nil {
			slog.Warn("skipping undecodable stream chunk",
				"error", err.Error(),
				"data", debug.Truncate(payload, 200),
			)
			continue
		}
		if ev == nil {
			continue
		}

		if ev.Terminal() {
			// Later terminals replace earlier ones (e.g. a trailing
			// usage-only chunk updating the pending final).
			evCopy := *ev
			terminal = &evCopy
			continue
		}

		if !send(*ev) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		if terminal == nil {
			send(ProviderEvent{Type: ProviderEventError, Err: translateTransportError(err)})
			return
		}
	}

	if terminal != nil {
		if !send(*terminal) {
			return
		}
	}

	for _, ev := range dec.Finalize() {
		if !send(ev) {
			return
		}
	}
}
