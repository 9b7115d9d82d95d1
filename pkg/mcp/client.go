package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ClientInfo names the client implementation during the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RemoteTool is a tool definition advertised by a remote server.
type RemoteTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// CallResult is the payload of a remote tools/call.
type CallResult struct {
	Content           []Content   `json:"content"`
	IsError           bool        `json:"isError"`
	StructuredContent interface{} `json:"structuredContent,omitempty"`
}

// Client drives one session against a protocol server. Requests may
// be issued concurrently; responses are correlated by id, so
// out-of-order completion is fine.
type Client struct {
	info    ClientInfo
	timeout time.Duration
	logger  zerolog.Logger

	transport Transport
	nextID    atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan *Message
	closed   bool
	onNotify []func(method string, params json.RawMessage)

	done chan struct{}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRequestTimeout sets the per-request response deadline.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithClientLogger sets the client logger.
func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient wraps a transport and starts the response dispatcher. Call
// Initialize before anything else.
func NewClient(info ClientInfo, t Transport, opts ...ClientOption) *Client {
	c := &Client{
		info:      info,
		timeout:   30 * time.Second,
		logger:    log.Logger,
		transport: t,
		pending:   make(map[int64]chan *Message),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.dispatchLoop()
	return c
}

// OnNotification registers a handler for server notifications.
func (c *Client) OnNotification(fn func(method string, params json.RawMessage)) {
	c.mu.Lock()
	c.onNotify = append(c.onNotify, fn)
	c.mu.Unlock()
}

func (c *Client) dispatchLoop() {
	ctx := context.Background()
	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			c.failAll(err)
			return
		}

		switch {
		case msg.IsResponse():
			c.deliver(msg)
		case msg.IsNotification():
			c.mu.Lock()
			handlers := make([]func(string, json.RawMessage), len(c.onNotify))
			copy(handlers, c.onNotify)
			c.mu.Unlock()
			for _, fn := range handlers {
				fn(msg.Method, msg.Params)
			}
		default:
			c.logger.Debug().Str("method", msg.Method).Msg("Ignoring unexpected server request")
		}
	}
}

func (c *Client) deliver(msg *Message) {
	id, ok := asInt64(msg.ID)
	if !ok {
		c.logger.Debug().Str("id", describeID(msg.ID)).Msg("Response with unrecognized id")
		return
	}

	c.mu.Lock()
	ch, exists := c.pending[id]
	if exists {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if exists {
		ch <- msg
	} else {
		// Late response after timeout; drop it.
		c.logger.Debug().Int64("id", id).Msg("Response for abandoned request")
	}
}

// failAll cancels every in-flight request exactly once; used when the
// transport dies or the client closes.
func (c *Client) failAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan *Message)
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	for id, ch := range pending {
		ch <- NewErrorResponse(id, InternalError, fmt.Sprintf("session terminated: %v", err), nil)
	}
	if !alreadyClosed {
		close(c.done)
	}
}

func asInt64(id interface{}) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// Call issues one request and waits for its response or the deadline.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrTransportClosed
	}
	id := c.nextID.Add(1)
	ch := make(chan *Message, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	abandon := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	req, err := NewRequest(id, method, params)
	if err != nil {
		abandon()
		return nil, err
	}
	if err := c.transport.Send(ctx, req); err != nil {
		abandon()
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, &ProtocolError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	case <-timer.C:
		abandon()
		return nil, &TimeoutError{Method: method, Timeout: c.timeout}
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrTransportClosed
	}
}

// notify sends a notification (no response expected).
func (c *Client) notify(ctx context.Context, method string, params interface{}) error {
	note, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, note)
}

// Initialize performs the handshake and moves the server to serving.
func (c *Client) Initialize(ctx context.Context) error {
	params := map[string]interface{}{
		"protocolVersion": Version,
		"capabilities":    map[string]interface{}{},
		"clientInfo":      c.info,
	}
	raw, err := c.Call(ctx, "initialize", params)
	if err != nil {
		return err
	}

	var result struct {
		ProtocolVersion string     `json:"protocolVersion"`
		ServerInfo      ServerInfo `json:"serverInfo"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return &ProtocolError{Code: InternalError, Message: "malformed initialize result", Err: err}
	}
	c.logger.Info().
		Str("server", result.ServerInfo.Name).
		Str("server_version", result.ServerInfo.Version).
		Str("protocol", result.ProtocolVersion).
		Msg("Session established")

	return c.notify(ctx, "notifications/initialized", nil)
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, "ping", nil)
	return err
}

// ListTools fetches the server's exposed tool definitions.
func (c *Client) ListTools(ctx context.Context) ([]RemoteTool, error) {
	raw, err := c.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []RemoteTool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Code: InternalError, Message: "malformed tools/list result", Err: err}
	}
	return result.Tools, nil
}

// CallTool executes a remote tool.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*CallResult, error) {
	raw, err := c.Call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	var result CallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Code: InternalError, Message: "malformed tools/call result", Err: err}
	}
	return &result, nil
}

// ListResources fetches the server's resource listing.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	raw, err := c.Call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Resources []Resource `json:"resources"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Code: InternalError, Message: "malformed resources/list result", Err: err}
	}
	return result.Resources, nil
}

// ReadResource reads one resource.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]ResourceContent, error) {
	raw, err := c.Call(ctx, "resources/read", map[string]interface{}{"uri": uri})
	if err != nil {
		return nil, err
	}
	var result struct {
		Contents []ResourceContent `json:"contents"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Code: InternalError, Message: "malformed resources/read result", Err: err}
	}
	return result.Contents, nil
}

// ListPrompts fetches the server's prompt listing.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	raw, err := c.Call(ctx, "prompts/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Prompts []Prompt `json:"prompts"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Code: InternalError, Message: "malformed prompts/list result", Err: err}
	}
	return result.Prompts, nil
}

// GetPrompt renders one prompt with arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) ([]PromptMessage, error) {
	raw, err := c.Call(ctx, "prompts/get", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	var result struct {
		Messages []PromptMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ProtocolError{Code: InternalError, Message: "malformed prompts/get result", Err: err}
	}
	return result.Messages, nil
}

// SetLogLevel asks the server to change its log level.
func (c *Client) SetLogLevel(ctx context.Context, level string) error {
	_, err := c.Call(ctx, "logging/setLevel", map[string]interface{}{"level": level})
	return err
}

// Close terminates the session and cancels all in-flight requests.
func (c *Client) Close() error {
	c.failAll(fmt.Errorf("client closed"))
	return c.transport.Close()
}
