package client

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Stream is the duplex byte stream a Connection owns. One goroutine may read
// while another writes.
type Stream interface {
	io.ReadWriteCloser

	// SetReadDeadline bounds the current and future Read calls.
	SetReadDeadline(t time.Time) error

	// RemoteAddr returns the server address.
	RemoteAddr() net.Addr
}

// DefaultDialTimeout bounds connection establishment.
const DefaultDialTimeout = 5 * time.Second

// Dialer opens streams to chat servers.
//
// Addresses of the form ws://host:port/path or wss://host:port/path are
// dialled as WebSocket; anything else is a TCP host:port.
type Dialer struct {
	Timeout time.Duration
}

// Dial opens a stream to address.
func (d Dialer) Dial(ctx context.Context, address string) (Stream, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	if isWebSocketURL(address) {
		conn, br, _, err := ws.Dialer{Timeout: timeout}.Dial(ctx, address)
		if err != nil {
			return nil, err
		}
		return newWebSocketStream(conn, br), nil
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func isWebSocketURL(address string) bool {
	return strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://")
}

// webSocketStream presents the binary messages of a client-side WebSocket
// as one continuous byte stream. Each Write is sent as one binary message.
//
// Unlike a TCP stream, a read deadline that expires while a WebSocket
// message is partly read loses that message, so the stream must not be read
// again after a timeout. Disconnect closes it right after the deadline kick.
type webSocketStream struct {
	conn net.Conn
	rw   io.ReadWriter

	readBuffer []byte

	// mu serialises writes; control frame replies are written by the reader.
	mu     sync.Mutex
	closed bool
}

func newWebSocketStream(conn net.Conn, br *bufio.Reader) *webSocketStream {
	s := &webSocketStream{conn: conn}

	// br holds frames that arrived together with the handshake response.
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	s.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{mu: &s.mu, w: conn}}
	return s
}

func (s *webSocketStream) Read(buf []byte) (int, error) {
	for len(s.readBuffer) == 0 {
		data, err := wsutil.ReadServerBinary(s.rw)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return 0, io.EOF
			}
			return 0, err
		}
		s.readBuffer = data
	}

	n := copy(buf, s.readBuffer)
	s.readBuffer = s.readBuffer[n:]
	return n, nil
}

func (s *webSocketStream) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := wsutil.WriteClientBinary(s.conn, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (s *webSocketStream) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		_ = wsutil.WriteClientMessage(s.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	}
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *webSocketStream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *webSocketStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// lockedWriter guards an io.Writer with a shared mutex.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

