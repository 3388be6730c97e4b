package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Open-Shu/shu-sub001/pkg/api"
	"github.com/Open-Shu/shu-sub001/pkg/debug"
	"github.com/Open-Shu/shu-sub001/pkg/observability"
)

// Default transport tuning. One Client owns one connection pool; the pool
// is safe for concurrent use by all in-flight calls sharing the provider
// configuration.
const (
	defaultConnectTimeout  = 10 * time.Second
	defaultReadTimeout     = 120 * time.Second
	defaultStreamReadFloor = 90 * time.Second
	defaultMaxIdleConns    = 32
	defaultMaxConnsPerHost = 64

	streamBufferSize = 16
)

// ClientConfig holds one provider configuration: connection details,
// stored parameter overrides, and retry/timeout tuning.
type ClientConfig struct {
	// Name identifies this provider configuration in logs and events.
	Name string

	// BaseURL is the upstream root; the adapter supplies endpoint paths.
	BaseURL string

	// APIKey is passed to the adapter's AuthHeader. Empty disables auth.
	APIKey string

	// Params are stored per-configuration parameter overrides, merged
	// under per-request overrides on every call.
	Params map[string]any

	// DefaultModel is used by ValidateConnection's fallback completion.
	DefaultModel string

	// MaxAttempts caps retries (including the initial attempt).
	// Zero means DefaultMaxAttempts.
	MaxAttempts int

	// Backoff overrides the retry delay curve. Zero value means defaults.
	Backoff Backoff

	// ConnectTimeout bounds dialing; ReadTimeout bounds a whole
	// non-streaming call. StreamReadFloor is the minimum idle timeout a
	// streaming call is granted regardless of the caller's Timeout.
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	StreamReadFloor time.Duration

	// Capabilities optionally overrides the adapter's feature flags
	// (per-model restrictions from configuration).
	Capabilities *Capabilities
}

// Client is the retrying HTTP client for one provider configuration. It
// implements ChatProvider and is safe for concurrent use.
type Client struct {
	adapter  Adapter
	cfg      ClientConfig
	http     *http.Client
	detector MismatchDetector
	backoff  Backoff
}

var _ ChatProvider = (*Client)(nil)

// NewClient creates a Client for the given adapter and configuration.
func NewClient(adapter Adapter, cfg ClientConfig) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.StreamReadFloor == 0 {
		cfg.StreamReadFloor = defaultStreamReadFloor
	}

	backoff := cfg.Backoff
	if backoff.Base == 0 && backoff.Cap == 0 {
		backoff = DefaultBackoff()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConns,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		adapter: adapter,
		cfg:     cfg,
		// No overall http.Client timeout: non-streaming calls get a
		// context deadline, streaming calls an idle watchdog.
		http:     &http.Client{Transport: transport},
		detector: NewKeywordMismatchDetector(),
		backoff:  backoff,
	}
}

// Name returns the provider configuration identifier.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Capabilities returns the configuration override if present, otherwise
// the adapter's defaults.
func (c *Client) Capabilities() Capabilities {
	if c.cfg.Capabilities != nil {
		return *c.cfg.Capabilities
	}
	return c.adapter.Capabilities()
}

// Close releases idle connections in the pool.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Complete performs non-streaming inference with retries. The returned
// slice ends with exactly one Final event; classified failures are
// returned as *api.Error after the retry loop terminates.
func (c *Client) Complete(ctx context.Context, req *Request) ([]ProviderEvent, error) {
	state := NewRetryState(c.cfg.MaxAttempts)
	for {
		events, derr := c.completeOnce(ctx, req)
		if derr == nil {
			return events, nil
		}
		if c.detector.Mismatch(derr.Message) {
			derr.Permanent = true
		}
		if !state.ShouldRetry(derr) {
			return nil, derr
		}
		observability.ProviderRetriesTotal.WithLabelValues(c.cfg.Name).Inc()
		delay := c.backoff.Delay(state.Attempts())
		slog.Warn("retrying provider call",
			"provider", c.cfg.Name,
			"model", req.Model,
			"attempt", state.Attempts(),
			"delay", delay,
			"error", derr.Error(),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, derr
		}
	}
}

// completeOnce performs a single non-streaming attempt.
func (c *Client) completeOnce(ctx context.Context, req *Request) ([]ProviderEvent, *api.Error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.ReadTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, derr := c.newRequest(attemptCtx, req, false)
	if derr != nil {
		return nil, derr
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, translateTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, translateHTTPError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, translateTransportError(err)
	}
	debug.Raw("providers", string(body))

	events, err := c.adapter.ParseResponse(body)
	if err != nil {
		perr := api.NewProviderError("failed to parse upstream response: " + err.Error())
		perr.Cause = err
		return nil, perr
	}

	terminal := false
	for i := range events {
		if events[i].Type == ProviderEventError {
			return nil, events[i].Err
		}
		if events[i].Type == ProviderEventFinal {
			terminal = true
		}
		if events[i].Type == ProviderEventToolCall {
			c.attachFollowups(ctx, req, &events[i])
		}
	}
	if !terminal {
		return nil, api.NewNoFinalMessageError()
	}

	return events, nil
}

// Stream performs streaming inference. Retries happen internally and are
// invisible to the consumer; once a delta has been forwarded, a subsequent
// failure is surfaced as an Error event instead of retried.
func (c *Client) Stream(ctx context.Context, req *Request) (<-chan ProviderEvent, error) {
	// Fail fast on request construction: these errors are configuration
	// problems and never retried.
	if _, derr := c.buildBody(req, true); derr != nil {
		return nil, derr
	}

	out := make(chan ProviderEvent, streamBufferSize)
	go func() {
		defer close(out)
		c.streamLoop(ctx, req, out)
	}()
	return out, nil
}

// streamLoop drives streaming attempts until one succeeds, retries are
// exhausted, or partial progress forbids another attempt.
func (c *Client) streamLoop(ctx context.Context, req *Request, out chan<- ProviderEvent) {
	state := NewRetryState(c.cfg.MaxAttempts)
	for {
		emitted, derr := c.streamOnce(ctx, req, out)
		if derr == nil {
			return
		}
		if c.detector.Mismatch(derr.Message) {
			derr.Permanent = true
		}

		// No retry after partial progress is visible downstream.
		if emitted || !state.ShouldRetry(derr) {
			sendEvent(ctx, out, ProviderEvent{Type: ProviderEventError, Err: derr})
			return
		}

		observability.ProviderRetriesTotal.WithLabelValues(c.cfg.Name).Inc()
		delay := c.backoff.Delay(state.Attempts())
		slog.Warn("retrying provider stream",
			"provider", c.cfg.Name,
			"model", req.Model,
			"attempt", state.Attempts(),
			"delay", delay,
			"error", derr.Error(),
		)
		if err := sleep(ctx, delay); err != nil {
			sendEvent(ctx, out, ProviderEvent{Type: ProviderEventError, Err: derr})
			return
		}
	}
}

// streamOnce performs a single streaming attempt, forwarding events to out.
// It reports whether any delta reached the consumer and the classified
// failure, if any. A nil error means the attempt terminated cleanly.
func (c *Client) streamOnce(ctx context.Context, req *Request, out chan<- ProviderEvent) (emitted bool, failure *api.Error) {
	attemptCtx, cancel := context.WithCancelCause(ctx)

	httpReq, derr := c.newRequest(attemptCtx, req, true)
	if derr != nil {
		cancel(nil)
		return false, derr
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		cancel(nil)
		return false, translateTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		derr := translateHTTPError(resp)
		resp.Body.Close()
		cancel(nil)
		return false, derr
	}

	// Idle watchdog: the effective read timeout never drops below the
	// configured floor, so a short caller timeout cannot starve an
	// in-progress stream.
	idle := req.Timeout
	if idle < c.cfg.StreamReadFloor {
		idle = c.cfg.StreamReadFloor
	}
	watchdog := time.NewTimer(idle)
	defer watchdog.Stop()

	raw := make(chan ProviderEvent, streamBufferSize)
	go func() {
		defer close(raw)
		defer resp.Body.Close()
		body := &activityReader{r: resp.Body, touch: func() { watchdog.Reset(idle) }}
		decodeStream(attemptCtx, body, c.adapter.NewChunkDecoder(), raw)
	}()

	// Always unblock and drain the decode goroutine before returning.
	defer func() {
		cancel(nil)
		for range raw {
		}
	}()

	sawTerminal := false
	for {
		select {
		case ev, ok := <-raw:
			if !ok {
				if failure != nil {
					return emitted, failure
				}
				if !sawTerminal {
					perr := api.NewProviderError("upstream closed the stream before completion")
					return emitted, perr
				}
				return emitted, nil
			}

			switch ev.Type {
			case ProviderEventError:
				// Hold the failure for the retry loop instead of
				// forwarding; keep draining so Finalize still runs.
				sawTerminal = true
				failure = ev.Err

			case ProviderEventFinal:
				sawTerminal = true
				if !sendEvent(ctx, out, ev) {
					return emitted, nil
				}

			case ProviderEventToolCall:
				c.attachFollowups(ctx, req, &ev)
				if !sendEvent(ctx, out, ev) {
					return emitted, nil
				}

			default:
				if !sendEvent(ctx, out, ev) {
					return emitted, nil
				}
				emitted = true
			}

		case <-watchdog.C:
			terr := api.NewTimeoutError(api.TimeoutRead, fmt.Sprintf("no stream data for %s", idle), nil)
			cancel(terr)
			return emitted, terr

		case <-ctx.Done():
			// Consumer is gone; nothing left to report.
			cancel(nil)
			return emitted, nil
		}
	}
}

// DiscoverModels queries the provider's model listing endpoint.
func (c *Client) DiscoverModels(ctx context.Context) ([]ModelInfo, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()

	url := c.cfg.BaseURL + c.adapter.ModelsPath()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, api.NewConfigurationError("failed to create model discovery request: " + err.Error())
	}
	if name, value := c.adapter.AuthHeader(c.cfg.APIKey); name != "" {
		httpReq.Header.Set(name, value)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, translateTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, translateHTTPError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, translateTransportError(err)
	}

	models, err := c.adapter.ParseModels(body)
	if err != nil {
		perr := api.NewProviderError("failed to parse model list: " + err.Error())
		perr.Cause = err
		return nil, perr
	}
	return models, nil
}

// ValidateConnection checks reachability: model discovery first, then a
// minimal one-token completion for backends without a models endpoint.
func (c *Client) ValidateConnection(ctx context.Context) bool {
	if _, err := c.DiscoverModels(ctx); err == nil {
		return true
	}

	probe := &Request{
		Model:    c.cfg.DefaultModel,
		Messages: []api.Message{{Role: api.RoleUser, Content: "ping"}},
		Params:   map[string]any{"max_tokens": 1},
	}
	_, err := c.Complete(ctx, probe)
	return err == nil
}

// buildBody merges parameter overrides and delegates body assembly to the
// adapter.
func (c *Client) buildBody(req *Request, stream bool) (any, *api.Error) {
	merged := MergeParameters(c.cfg.Params, req.Params)
	mapped := c.adapter.MapParameters(merged)
	body, err := c.adapter.BuildRequestBody(req, mapped, stream)
	if err != nil {
		return nil, api.NewConfigurationError("failed to build provider request: " + err.Error())
	}
	return body, nil
}

// newRequest builds the chat completion HTTP request.
func (c *Client) newRequest(ctx context.Context, req *Request, stream bool) (*http.Request, *api.Error) {
	body, derr := c.buildBody(req, stream)
	if derr != nil {
		return nil, derr
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, api.NewConfigurationError("failed to marshal provider request: " + err.Error())
	}

	url := c.cfg.BaseURL + c.adapter.ChatPath()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, api.NewConfigurationError("failed to create provider request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if name, value := c.adapter.AuthHeader(c.cfg.APIKey); name != "" {
		httpReq.Header.Set(name, value)
	}

	debug.Log("providers", "provider request",
		"provider", c.cfg.Name,
		"model", req.Model,
		"url", url,
		"stream", stream,
	)
	debug.Raw("providers", string(payload))

	return httpReq, nil
}

// attachFollowups executes the tool calls carried by a ToolCall event and
// fills in the follow-up messages: the assistant tool-call message first,
// then one tool-role result per call, per Chat Completions convention.
func (c *Client) attachFollowups(ctx context.Context, req *Request, ev *ProviderEvent) {
	if len(ev.Calls) == 0 {
		return
	}

	followup := []api.Message{{
		Role:      api.RoleAssistant,
		Content:   ev.Narration,
		ToolCalls: ev.Calls,
	}}

	for _, call := range ev.Calls {
		output := c.invokeTool(ctx, req.Tools, call)
		followup = append(followup, api.Message{
			Role:       api.RoleTool,
			Content:    output,
			ToolCallID: call.ID,
		})
	}

	ev.Followup = followup
}

// invokeTool runs one tool call, mapping missing tools and execution
// failures to result text the model can react to.
func (c *Client) invokeTool(ctx context.Context, tools []Tool, call api.ToolCall) string {
	for _, tool := range tools {
		if tool.Name != call.Function.Name {
			continue
		}
		output, err := tool.Invoke(ctx, call.Function.Arguments)
		if err != nil {
			slog.Warn("tool execution error",
				"tool", call.Function.Name,
				"call_id", call.ID,
				"error", err.Error(),
			)
			observability.ToolExecutionsTotal.WithLabelValues(call.Function.Name, "error").Inc()
			return "tool execution failed: " + err.Error()
		}
		observability.ToolExecutionsTotal.WithLabelValues(call.Function.Name, "success").Inc()
		return output
	}
	observability.ToolExecutionsTotal.WithLabelValues(call.Function.Name, "missing").Inc()
	return "no tool available with name " + call.Function.Name
}

// sendEvent pushes an event unless the consumer's context is cancelled.
func sendEvent(ctx context.Context, ch chan<- ProviderEvent, ev ProviderEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// activityReader resets the stream watchdog on every successful read.
type activityReader struct {
	r     io.Reader
	touch func()
}

func (a *activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.touch()
	}
	return n, err
}
