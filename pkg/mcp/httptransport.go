package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

const sessionHeader = "X-Session-ID"

// httpSession is the server side of one HTTP client: requests arrive
// via POST, responses and notifications stream back over the client's
// SSE connection.
type httpSession struct {
	id       string
	inbound  chan *Message
	outbound chan *Message
	closed   chan struct{}
	once     sync.Once
}

func (s *httpSession) Send(ctx context.Context, msg *Message) error {
	select {
	case s.outbound <- msg:
		return nil
	case <-s.closed:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *httpSession) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg := <-s.inbound:
		return msg, nil
	case <-s.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *httpSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// HTTPHandler serves the protocol over HTTP: GET /events opens a
// Server-Sent Events stream and mints a session, POST /rpc submits
// envelopes for that session. Each session surfaces as one Transport
// through Accept.
type HTTPHandler struct {
	mu       sync.Mutex
	sessions map[string]*httpSession
	accepted chan Transport
}

// NewHTTPHandler creates the handler. Serve sessions by draining
// Accept.
func NewHTTPHandler() *HTTPHandler {
	return &HTTPHandler{
		sessions: make(map[string]*httpSession),
		accepted: make(chan Transport, 8),
	}
}

// Accept blocks until a new client opens its event stream and returns
// that session's transport.
func (h *HTTPHandler) Accept(ctx context.Context) (Transport, error) {
	select {
	case t := <-h.accepted:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/events"):
		h.serveEvents(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/rpc"):
		h.serveRPC(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *HTTPHandler) serveEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		http.Error(w, "session id generation failed", http.StatusInternalServerError)
		return
	}

	session := &httpSession{
		id:       id,
		inbound:  make(chan *Message, 32),
		outbound: make(chan *Message, 32),
		closed:   make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[id] = session
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, id)
		h.mu.Unlock()
		session.Close()
	}()

	select {
	case h.accepted <- session:
	case <-r.Context().Done():
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: session\ndata: %s\n\n", id)
	flusher.Flush()

	for {
		select {
		case msg := <-session.outbound:
			data, err := EncodeMessage(msg)
			if err != nil {
				log.Error().Err(err).Msg("Failed to encode SSE message")
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		case <-session.closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *HTTPHandler) serveRPC(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionHeader)
	h.mu.Lock()
	session, ok := h.sessions[id]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxLineBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	msg, err := DecodeMessage(body)
	if err != nil {
		// The envelope itself is broken; answer on the stream so the
		// client's correlation logic sees a proper JSON-RPC error.
		session.Send(r.Context(), NewErrorResponse(nil, ParseError, err.Error(), nil))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	select {
	case session.inbound <- msg:
		w.WriteHeader(http.StatusAccepted)
	case <-session.closed:
		http.Error(w, "session closed", http.StatusGone)
	case <-r.Context().Done():
	}
}

// HTTPClientTransport talks to an HTTPHandler peer: Send POSTs
// envelopes, Receive reads the SSE stream.
type HTTPClientTransport struct {
	baseURL   string
	sessionID string
	client    *http.Client

	queue  chan *Message
	closed chan struct{}
	once   sync.Once
	cancel context.CancelFunc
}

// DialHTTP opens the event stream against baseURL (e.g.
// "http://host:port/mcp") and returns a ready transport.
func DialHTTP(ctx context.Context, baseURL string) (*HTTPClientTransport, error) {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/events", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, &CommunicationError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, &CommunicationError{Err: fmt.Errorf("event stream returned %s", resp.Status)}
	}

	t := &HTTPClientTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		queue:   make(chan *Message, 32),
		closed:  make(chan struct{}),
		cancel:  cancel,
	}

	ready := make(chan error, 1)
	go t.readStream(resp.Body, ready)

	select {
	case err := <-ready:
		if err != nil {
			t.Close()
			return nil, err
		}
	case <-ctx.Done():
		t.Close()
		return nil, ctx.Err()
	}
	return t, nil
}

func (t *HTTPClientTransport) readStream(body io.ReadCloser, ready chan<- error) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var event string
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		case line == "":
			t.dispatch(event, data.String(), ready)
			event = ""
			data.Reset()
		}
	}
	close(t.queue)
}

func (t *HTTPClientTransport) dispatch(event, data string, ready chan<- error) {
	switch event {
	case "session":
		t.sessionID = data
		select {
		case ready <- nil:
		default:
		}
	case "message":
		msg, err := DecodeMessage([]byte(data))
		if err != nil {
			log.Error().Err(err).Msg("Malformed SSE frame")
			return
		}
		select {
		case t.queue <- msg:
		case <-t.closed:
		}
	}
}

func (t *HTTPClientTransport) Send(ctx context.Context, msg *Message) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/rpc", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionHeader, t.sessionID)

	resp, err := t.client.Do(req)
	if err != nil {
		return &CommunicationError{Method: msg.Method, RequestID: msg.ID, Err: err}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &CommunicationError{Method: msg.Method, RequestID: msg.ID, Err: fmt.Errorf("rpc endpoint returned %s", resp.Status)}
	}
	return nil
}

func (t *HTTPClientTransport) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg, ok := <-t.queue:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *HTTPClientTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.cancel()
	})
	return nil
}
