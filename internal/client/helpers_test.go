package client_test

import (
	"context"
	"errors"
	"io"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/omochice/framechat/internal/client"
	"github.com/omochice/framechat/pkg/protocol"
)

const waitFor = 2 * time.Second

// recordingOutput records everything shown to the user.
type recordingOutput struct {
	mu       sync.Mutex
	rendered []protocol.Message
	notices  []string
	warnings []string
	errors   []string
}

func (o *recordingOutput) Render(msg protocol.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rendered = append(o.rendered, msg)
}

func (o *recordingOutput) Notice(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, text)
}

func (o *recordingOutput) Warning(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.warnings = append(o.warnings, text)
}

func (o *recordingOutput) Error(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, text)
}

func (o *recordingOutput) Rendered() []protocol.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.rendered)
}

func (o *recordingOutput) Notices() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.notices)
}

func (o *recordingOutput) Warnings() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.warnings)
}

func (o *recordingOutput) Errors() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.errors)
}

// pipeDialer connects to in-memory peers.
type pipeDialer struct {
	peers chan net.Conn
	wrap  func(net.Conn) client.Stream
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{peers: make(chan net.Conn, 4)}
}

func (d *pipeDialer) Dial(_ context.Context, _ string) (client.Stream, error) {
	local, remote := net.Pipe()
	d.peers <- remote
	if d.wrap != nil {
		return d.wrap(local), nil
	}
	return local, nil
}

func (d *pipeDialer) peer(t *testing.T) net.Conn {
	t.Helper()
	select {
	case p := <-d.peers:
		t.Cleanup(func() { p.Close() })
		return p
	case <-time.After(waitFor):
		t.Fatal("no connection was dialled")
		return nil
	}
}

// failingDialer refuses every connection.
type failingDialer struct{}

func (failingDialer) Dial(_ context.Context, address string) (client.Stream, error) {
	return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

// stuckStream ignores read deadlines, so only Close can unblock a Read.
type stuckStream struct {
	net.Conn
}

func (stuckStream) SetReadDeadline(time.Time) error {
	return nil
}

// peerReader collects the messages a peer receives.
type peerReader struct {
	messages chan protocol.Message
	closed   chan struct{}
}

func readPeer(conn net.Conn) *peerReader {
	p := &peerReader{
		messages: make(chan protocol.Message, 16),
		closed:   make(chan struct{}),
	}
	go func() {
		defer close(p.closed)
		dec := protocol.NewDecoder(conn)
		for {
			msg, err := dec.Decode()
			if err != nil {
				return
			}
			p.messages <- msg
		}
	}()
	return p
}

func (p *peerReader) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg := <-p.messages:
		return msg
	case <-time.After(waitFor):
		t.Fatal("peer received nothing")
		return protocol.Message{}
	}
}

func (p *peerReader) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-p.closed:
	case <-time.After(waitFor):
		t.Fatal("peer stream was not closed")
	}
}

// scriptedInput returns its lines, then err (io.EOF when nil).
type scriptedInput struct {
	lines []string
	err   error
}

func (s *scriptedInput) ReadLine() (string, error) {
	if len(s.lines) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func closedChannel(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
