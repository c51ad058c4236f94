package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// bufferedConn wraps a net.Conn with a bufio.Reader to preserve peeked data.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (bc *bufferedConn) Read(p []byte) (int, error) {
	return bc.reader.Read(p)
}

// TCPConnection is a raw frame stream.
type TCPConnection struct {
	*bufferedConn
}

// NewTCPConnection creates a TCPConnection reading through reader, which
// holds the bytes peeked during protocol detection.
func NewTCPConnection(conn net.Conn, reader *bufio.Reader) *TCPConnection {
	return &TCPConnection{&bufferedConn{Conn: conn, reader: reader}}
}

func (tc *TCPConnection) RemoteAddr() string {
	return tc.Conn.RemoteAddr().String()
}

// WebSocketConnection carries frames in binary WebSocket messages using
// gobwas/ws. Reads see the messages as one continuous byte stream.
type WebSocketConnection struct {
	conn net.Conn
	rw   io.ReadWriter

	readBuffer []byte

	// mu serialises writes; control frame replies are written by the reader.
	mu     sync.Mutex
	closed bool
}

// UpgradeWebSocket performs the server side of the WebSocket handshake on
// conn, reading the request through reader.
func UpgradeWebSocket(conn net.Conn, reader *bufio.Reader) (*WebSocketConnection, error) {
	bc := &bufferedConn{Conn: conn, reader: reader}
	if _, err := ws.Upgrade(bc); err != nil {
		return nil, err
	}

	wc := &WebSocketConnection{conn: conn}
	wc.rw = struct {
		io.Reader
		io.Writer
	}{bc, lockedWriter{mu: &wc.mu, w: conn}}
	return wc, nil
}

func (wc *WebSocketConnection) RemoteAddr() string {
	return wc.conn.RemoteAddr().String()
}

func (wc *WebSocketConnection) Read(buf []byte) (int, error) {
	for len(wc.readBuffer) == 0 {
		data, err := wsutil.ReadClientBinary(wc.rw)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return 0, io.EOF
			}
			return 0, err
		}
		wc.readBuffer = data
	}

	n := copy(buf, wc.readBuffer)
	wc.readBuffer = wc.readBuffer[n:]
	return n, nil
}

func (wc *WebSocketConnection) Write(data []byte) (int, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if err := wsutil.WriteServerBinary(wc.conn, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (wc *WebSocketConnection) Close() error {
	wc.mu.Lock()
	if !wc.closed {
		wc.closed = true
		_ = wsutil.WriteServerMessage(wc.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusGoingAway, ""))
	}
	wc.mu.Unlock()
	return wc.conn.Close()
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
