package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omochice/framechat/pkg/protocol"
)

// Errors reported by the connection lifecycle.
var (
	ErrConnectFailed = errors.New("failed to connect to server")
	ErrNotConnected  = errors.New("not connected")
)

// DefaultStopTimeout bounds how long Disconnect waits for the receive loop
// before closing the stream under it.
const DefaultStopTimeout = 2 * time.Second

// StreamDialer opens streams. Dialer is the production implementation.
type StreamDialer interface {
	Dial(ctx context.Context, address string) (Stream, error)
}

// Connection is a live link to a server: the stream, its receive loop and
// the stop flag they share. Connections are created by Manager.Connect and
// released by Manager.Disconnect.
type Connection struct {
	address string
	stream  Stream
	stop    atomic.Bool
	recv    *receiver

	once sync.Once
}

// Send writes msg as one frame.
func (c *Connection) Send(msg protocol.Message) error {
	if err := protocol.WriteMessage(c.stream, msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Addr returns the address the connection was dialled with.
func (c *Connection) Addr() string {
	return c.address
}

// Done is closed when the receive loop has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.recv.done
}

// Lost reports whether the receive loop ended because the peer went away.
func (c *Connection) Lost() bool {
	return c.recv.lost.Load()
}

// Manager creates and tears down Connections.
type Manager struct {
	out          Output
	dialer       StreamDialer
	maxFrameSize uint32
	stopTimeout  time.Duration
	logger       *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDialer replaces the dialer used by Connect.
func WithDialer(d StreamDialer) ManagerOption {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithMaxFrameSize limits the size of frames accepted from the server.
func WithMaxFrameSize(n uint32) ManagerOption {
	return func(m *Manager) {
		m.maxFrameSize = n
	}
}

// WithStopTimeout sets how long Disconnect waits before forcing the stream
// closed.
func WithStopTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.stopTimeout = d
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a Manager whose receive loops render to out.
func NewManager(out Output, opts ...ManagerOption) *Manager {
	m := &Manager{
		out:          out,
		dialer:       Dialer{},
		maxFrameSize: protocol.DefaultMaxFrameSize,
		stopTimeout:  DefaultStopTimeout,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Connect dials address and starts a receive loop on the new stream.
// On failure nothing is left running.
func (m *Manager) Connect(ctx context.Context, address string) (*Connection, error) {
	stream, err := m.dialer.Dial(ctx, address)
	if err != nil {
		m.logger.Warn("connect failed", "addr", address, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, address, err)
	}

	conn := &Connection{
		address: address,
		stream:  stream,
	}
	conn.recv = newReceiver(stream, &conn.stop, m.out, m.logger.With("addr", address), m.maxFrameSize)
	go conn.recv.run()

	m.logger.Info("connected", "addr", address)
	return conn, nil
}

// Disconnect stops the receive loop and closes the stream. When it returns
// the receive loop has exited. It is safe to call more than once and with
// a nil Connection.
func (m *Manager) Disconnect(conn *Connection) {
	if conn == nil {
		return
	}

	conn.once.Do(func() {
		conn.stop.Store(true)

		// Wake a blocked Read.
		if err := conn.stream.SetReadDeadline(time.Now()); err != nil {
			m.logger.Debug("failed to set read deadline", "addr", conn.address, "error", err)
		}

		timer := time.NewTimer(m.stopTimeout)
		defer timer.Stop()

		select {
		case <-conn.recv.done:
		case <-timer.C:
			m.logger.Warn("receive loop did not stop in time, closing stream", "addr", conn.address)
			_ = conn.stream.Close()
			<-conn.recv.done
		}

		_ = conn.stream.Close()
		m.logger.Info("disconnected", "addr", conn.address)
	})
}
