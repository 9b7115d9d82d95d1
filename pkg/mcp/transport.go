package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// ErrTransportClosed is returned by Send and Receive after Close.
var ErrTransportClosed = errors.New("transport closed")

// Transport moves JSON-RPC envelopes between peers. Implementations
// must allow concurrent Send calls; Receive is called from a single
// goroutine.
type Transport interface {
	Send(ctx context.Context, msg *Message) error
	Receive(ctx context.Context) (*Message, error)
	Close() error
}

// maxLineBytes bounds a single stdio frame.
const maxLineBytes = 4 * 1024 * 1024

// StdioTransport frames messages as newline-delimited JSON over an
// io.Reader/io.Writer pair, typically a child process's pipes or the
// process's own stdin/stdout.
type StdioTransport struct {
	writeMu sync.Mutex
	w       io.Writer

	queue  chan *Message
	errCh  chan error
	closed chan struct{}
	once   sync.Once
	closer io.Closer
}

// NewStdioTransport wraps a reader/writer pair. If closer is non-nil
// it is closed together with the transport.
func NewStdioTransport(r io.Reader, w io.Writer, closer io.Closer) *StdioTransport {
	t := &StdioTransport{
		w:      w,
		queue:  make(chan *Message, 32),
		errCh:  make(chan error, 1),
		closed: make(chan struct{}),
		closer: closer,
	}
	go t.readLoop(r)
	return t
}

func (t *StdioTransport) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := DecodeMessage(line)
		if err != nil {
			// A malformed frame poisons only itself, not the stream.
			select {
			case t.queue <- &Message{JSONRPC: "2.0", Error: &Error{Code: ParseError, Message: err.Error()}}:
			case <-t.closed:
				return
			}
			continue
		}
		select {
		case t.queue <- msg:
		case <-t.closed:
			return
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case t.errCh <- err:
	default:
	}
	close(t.queue)
}

func (t *StdioTransport) Send(_ context.Context, msg *Message) error {
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(append(data, '\n')); err != nil {
		return &CommunicationError{Method: msg.Method, RequestID: msg.ID, Err: err}
	}
	return nil
}

func (t *StdioTransport) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg, ok := <-t.queue:
		if !ok {
			select {
			case err := <-t.errCh:
				if errors.Is(err, io.EOF) {
					return nil, io.EOF
				}
				return nil, &CommunicationError{Err: err}
			default:
				return nil, io.EOF
			}
		}
		return msg, nil
	case <-t.closed:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *StdioTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		if t.closer != nil {
			err = t.closer.Close()
		}
	})
	return err
}

// NewPipeTransport returns two connected in-memory transports. Frames
// written to one side arrive at the other; used to wire a server and a
// client inside one process, chiefly in tests.
func NewPipeTransport() (*StdioTransport, *StdioTransport) {
	aIn, bOut := net.Pipe()
	left := NewStdioTransport(aIn, aIn, aIn)
	right := NewStdioTransport(bOut, bOut, bOut)
	return left, right
}

// describeID renders a request id for log fields.
func describeID(id interface{}) string {
	if id == nil {
		return "<none>"
	}
	return fmt.Sprintf("%v", id)
}
