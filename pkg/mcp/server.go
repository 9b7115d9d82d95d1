package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/calder/toolgate/pkg/registry"
	"github.com/calder/toolgate/pkg/tool"
)

// Server lifecycle states. Transitions only move forward:
// uninitialized → ready (initialize) → serving (initialized
// notification) → closed.
type serverState int

const (
	stateUninitialized serverState = iota
	stateReady
	stateServing
	stateClosed
)

func (s serverState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateReady:
		return "ready"
	case stateServing:
		return "serving"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Content is one block of a tools/call or prompts/get payload.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ServerInfo names the implementation during the handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Server exposes a registry over one transport as a protocol server.
// One Server instance serves one session; construct a new one per
// accepted connection.
type Server struct {
	info      ServerInfo
	registry  *registry.Registry
	resources *ResourceStore
	prompts   *PromptStore
	logger    zerolog.Logger

	mu        sync.Mutex
	state     serverState
	transport Transport

	wg sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithResources attaches a resource store.
func WithResources(rs *ResourceStore) ServerOption {
	return func(s *Server) { s.resources = rs }
}

// WithPrompts attaches a prompt store.
func WithPrompts(ps *PromptStore) ServerOption {
	return func(s *Server) { s.prompts = ps }
}

// WithServerLogger sets the server logger.
func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a protocol server over the given registry.
func NewServer(info ServerInfo, reg *registry.Registry, opts ...ServerOption) *Server {
	s := &Server{
		info:     info,
		registry: reg,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resources == nil {
		s.resources = NewResourceStore()
	}
	if s.prompts == nil {
		s.prompts = NewPromptStore()
	}
	return s
}

// Serve runs the session until the transport closes or ctx is
// cancelled. Tool calls run concurrently, bounded by the registry's
// executor; lifecycle methods are handled in order on the read loop.
func (s *Server) Serve(ctx context.Context, t Transport) error {
	s.mu.Lock()
	if s.state != stateUninitialized {
		s.mu.Unlock()
		return fmt.Errorf("server already started (state %s)", s.state)
	}
	s.transport = t
	s.mu.Unlock()

	unsubscribe := s.watchToolChanges(ctx, t)
	defer unsubscribe()
	defer s.close(t)

	for {
		msg, err := t.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrTransportClosed) || ctx.Err() != nil {
				return nil
			}
			var commErr *CommunicationError
			if errors.As(err, &commErr) {
				s.logger.Warn().Err(err).Msg("Session transport failed")
				return err
			}
			// Undecodable frame: answer and keep the session alive.
			s.reply(ctx, t, errorFor(nil, err))
			continue
		}

		if msg.Error != nil && msg.Method == "" && msg.ID == nil {
			// Transport surfaced a malformed inbound frame.
			s.reply(ctx, t, NewErrorResponse(nil, msg.Error.Code, msg.Error.Message, nil))
			continue
		}

		s.dispatch(ctx, t, msg)
	}
}

func (s *Server) close(t Transport) {
	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()
	s.wg.Wait()
	t.Close()
	s.logger.Debug().Msg("Session closed")
}

func (s *Server) watchToolChanges(ctx context.Context, t Transport) func() {
	return s.registry.OnChange(func() {
		if s.currentState() != stateServing {
			return
		}
		note, err := NewNotification("notifications/tools/listChanged", nil)
		if err != nil {
			return
		}
		if err := t.Send(ctx, note); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to send listChanged notification")
		}
	})
}

func (s *Server) currentState() serverState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) dispatch(ctx context.Context, t Transport, msg *Message) {
	if msg.IsNotification() {
		s.handleNotification(ctx, t, msg)
		return
	}
	if !msg.IsRequest() {
		// Stray response; a server never awaits one.
		s.logger.Debug().Str("id", describeID(msg.ID)).Msg("Ignoring unexpected response")
		return
	}

	if resp := s.gateLifecycle(msg); resp != nil {
		s.reply(ctx, t, resp)
		return
	}

	switch msg.Method {
	case "initialize", "ping", "tools/list", "resources/list", "resources/read",
		"prompts/list", "prompts/get", "logging/setLevel":
		s.reply(ctx, t, s.handle(ctx, msg))
	case "tools/call":
		// Tool bodies may block; don't stall the read loop.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reply(ctx, t, s.handleToolsCall(ctx, msg))
		}()
	default:
		s.reply(ctx, t, NewErrorResponse(msg.ID, MethodNotFound, fmt.Sprintf("method not found: %s", msg.Method), nil))
	}
}

// gateLifecycle enforces the state machine: before initialize only
// initialize and ping are legal; initialize twice is an error.
func (s *Server) gateLifecycle(msg *Message) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateUninitialized:
		if msg.Method != "initialize" && msg.Method != "ping" {
			return NewErrorResponse(msg.ID, InvalidRequest, "server not initialized", nil)
		}
	case stateClosed:
		return NewErrorResponse(msg.ID, InvalidRequest, "session closed", nil)
	default:
		if msg.Method == "initialize" {
			return NewErrorResponse(msg.ID, InvalidRequest, "server already initialized", nil)
		}
	}
	return nil
}

func (s *Server) handleNotification(ctx context.Context, t Transport, msg *Message) {
	switch msg.Method {
	case "notifications/initialized", "initialized":
		s.mu.Lock()
		transitioned := s.state == stateReady
		if transitioned {
			s.state = stateServing
		}
		s.mu.Unlock()
		if transitioned {
			// Announce the current tool set once the client is listening.
			if note, err := NewNotification("notifications/tools/listChanged", nil); err == nil {
				if err := t.Send(ctx, note); err != nil {
					s.logger.Debug().Err(err).Msg("Failed to send listChanged notification")
				}
			}
		}
		s.logger.Debug().Msg("Session serving")
	default:
		s.logger.Debug().Str("method", msg.Method).Msg("Ignoring notification")
	}
}

func (s *Server) reply(ctx context.Context, t Transport, msg *Message) {
	if msg == nil {
		return
	}
	if err := t.Send(ctx, msg); err != nil {
		s.logger.Debug().Err(err).Str("id", describeID(msg.ID)).Msg("Failed to send response")
	}
}

func (s *Server) handle(ctx context.Context, msg *Message) *Message {
	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "ping":
		resp, _ := NewResponse(msg.ID, map[string]interface{}{})
		return resp
	case "tools/list":
		return s.handleToolsList(msg)
	case "resources/list":
		return s.handleResourcesList(msg)
	case "resources/read":
		return s.handleResourcesRead(msg)
	case "prompts/list":
		return s.handlePromptsList(msg)
	case "prompts/get":
		return s.handlePromptsGet(msg)
	case "logging/setLevel":
		return s.handleSetLevel(msg)
	default:
		return NewErrorResponse(msg.ID, MethodNotFound, fmt.Sprintf("method not found: %s", msg.Method), nil)
	}
}

func (s *Server) handleInitialize(msg *Message) *Message {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return NewErrorResponse(msg.ID, InvalidParams, "malformed initialize params", nil)
		}
	}
	if params.ProtocolVersion != Version {
		return NewErrorResponse(msg.ID, InvalidParams,
			fmt.Sprintf("unsupported protocol version %q (supported: %s)", params.ProtocolVersion, Version), nil)
	}

	s.mu.Lock()
	s.state = stateReady
	s.mu.Unlock()

	s.logger.Info().
		Str("client", params.ClientInfo.Name).
		Str("client_version", params.ClientInfo.Version).
		Str("protocol", params.ProtocolVersion).
		Msg("Session initialized")

	resp, _ := NewResponse(msg.ID, map[string]interface{}{
		"protocolVersion": Version,
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{"listChanged": true},
			"resources": map[string]interface{}{},
			"prompts":   map[string]interface{}{},
			"logging":   map[string]interface{}{},
		},
		"serverInfo": s.info,
	})
	return resp
}

func (s *Server) handleToolsList(msg *Message) *Message {
	metas := s.registry.ListExposable()
	tools := make([]map[string]interface{}, 0, len(metas))
	for _, meta := range metas {
		schema, err := s.registry.Schema(meta.Name)
		if err != nil {
			continue
		}
		tools = append(tools, map[string]interface{}{
			"name":        meta.Name,
			"description": meta.Description,
			"inputSchema": schema,
		})
	}
	resp, _ := NewResponse(msg.ID, map[string]interface{}{"tools": tools})
	return resp
}

func (s *Server) handleToolsCall(ctx context.Context, msg *Message) *Message {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Name == "" {
		return NewErrorResponse(msg.ID, InvalidParams, "tools/call requires a tool name", nil)
	}

	res := s.registry.Execute(ctx, params.Name, params.Arguments)

	if !res.Success {
		_, err := res.Unwrap()
		switch res.Kind() {
		case tool.KindNotFound:
			return NewErrorResponse(msg.ID, ToolNotFound, res.Error, nil)
		case tool.KindValidation:
			return NewErrorResponse(msg.ID, InvalidParams, res.Error, nil)
		case tool.KindSecurity:
			return NewErrorResponse(msg.ID, Unauthorized, res.Error, nil)
		default:
			// Execution and timeout failures are tool outcomes, not
			// protocol errors: report them in-band.
			result := map[string]interface{}{
				"content": []Content{{Type: "text", Text: err.Error()}},
				"isError": true,
			}
			resp, _ := NewResponse(msg.ID, result)
			return resp
		}
	}

	text := ""
	switch v := res.Data.(type) {
	case string:
		text = v
	default:
		if encoded, err := json.Marshal(v); err == nil {
			text = string(encoded)
		} else {
			text = fmt.Sprintf("%v", v)
		}
	}

	result := map[string]interface{}{
		"content": []Content{{Type: "text", Text: text}},
		"isError": false,
		// structuredContent carries the payload unflattened so
		// bridging peers can round-trip it without loss.
		"structuredContent": res.Data,
	}
	if res.Truncated {
		result["truncated"] = true
	}
	resp, _ := NewResponse(msg.ID, result)
	return resp
}

func (s *Server) handleResourcesList(msg *Message) *Message {
	resp, _ := NewResponse(msg.ID, map[string]interface{}{"resources": s.resources.List()})
	return resp
}

func (s *Server) handleResourcesRead(msg *Message) *Message {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.URI == "" {
		return NewErrorResponse(msg.ID, InvalidParams, "resources/read requires a uri", nil)
	}

	content, found, err := s.resources.Read(params.URI)
	if !found {
		return NewErrorResponse(msg.ID, ResourceNotFound, fmt.Sprintf("resource not found: %s", params.URI), nil)
	}
	if err != nil {
		return NewErrorResponse(msg.ID, InternalError, err.Error(), nil)
	}
	resp, _ := NewResponse(msg.ID, map[string]interface{}{"contents": []ResourceContent{content}})
	return resp
}

func (s *Server) handlePromptsList(msg *Message) *Message {
	resp, _ := NewResponse(msg.ID, map[string]interface{}{"prompts": s.prompts.List()})
	return resp
}

func (s *Server) handlePromptsGet(msg *Message) *Message {
	var params struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Name == "" {
		return NewErrorResponse(msg.ID, InvalidParams, "prompts/get requires a prompt name", nil)
	}

	messages, found, err := s.prompts.Render(params.Name, params.Arguments)
	if !found {
		return NewErrorResponse(msg.ID, PromptNotFound, fmt.Sprintf("prompt not found: %s", params.Name), nil)
	}
	if err != nil {
		return NewErrorResponse(msg.ID, InvalidParams, err.Error(), nil)
	}
	resp, _ := NewResponse(msg.ID, map[string]interface{}{"messages": messages})
	return resp
}

func (s *Server) handleSetLevel(msg *Message) *Message {
	var params struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Level == "" {
		return NewErrorResponse(msg.ID, InvalidParams, "logging/setLevel requires a level", nil)
	}

	parsed, err := zerolog.ParseLevel(params.Level)
	if err != nil {
		return NewErrorResponse(msg.ID, InvalidParams, fmt.Sprintf("unknown log level: %s", params.Level), nil)
	}
	zerolog.SetGlobalLevel(parsed)
	s.logger.Info().Str("level", params.Level).Msg("Log level changed by client")

	resp, _ := NewResponse(msg.ID, map[string]interface{}{})
	return resp
}

func errorFor(id interface{}, err error) *Message {
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return NewErrorResponse(id, protoErr.Code, protoErr.Message, nil)
	}
	return NewErrorResponse(id, InternalError, err.Error(), nil)
}
