package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/omochice/framechat/pkg/protocol"
)

// LineReader supplies one line of user input per call. It returns io.EOF
// when the user is done.
type LineReader interface {
	ReadLine() (string, error)
}

// Session drives the client: it reads commands and owns at most one
// Connection at a time.
type Session struct {
	input   LineReader
	out     Output
	manager *Manager
	startup []Command

	conn *Connection
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithStartup runs cmds before any input is read.
func WithStartup(cmds ...Command) SessionOption {
	return func(s *Session) {
		s.startup = append(s.startup, cmds...)
	}
}

// NewSession creates a disconnected Session.
func NewSession(input LineReader, out Output, manager *Manager, opts ...SessionOption) *Session {
	s := &Session{
		input:   input,
		out:     out,
		manager: manager,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run processes commands until /quit, end of input or ctx is done. The
// current connection, if any, is always disconnected before Run returns.
// Only input failures other than end of input are returned.
func (s *Session) Run(ctx context.Context) error {
	defer s.disconnect()

	for _, cmd := range s.startup {
		if s.Handle(ctx, cmd) {
			return nil
		}
	}

	for ctx.Err() == nil {
		line, err := s.input.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		if s.Handle(ctx, ParseCommand(line)) {
			return nil
		}
	}
	return nil
}

// Handle executes one command and reports whether the session should end.
func (s *Session) Handle(ctx context.Context, cmd Command) (quit bool) {
	s.reap()

	switch cmd.Kind {
	case CommandQuit:
		return true
	case CommandText:
		s.send(protocol.UserText(cmd.Arg))
	case CommandRegister:
		s.send(protocol.RegisterUsername(cmd.Arg))
	case CommandConnect:
		s.connect(ctx, cmd.Arg)
	case CommandDisconnect:
		if s.conn != nil {
			s.disconnect()
			s.out.Notice("disconnected")
		}
	}
	return false
}

// Connected reports whether the session holds a connection.
func (s *Session) Connected() bool {
	return s.conn != nil
}

// reap releases a connection whose peer has gone away.
func (s *Session) reap() {
	if s.conn != nil && s.conn.Lost() {
		s.disconnect()
	}
}

func (s *Session) send(msg protocol.Message) {
	if s.conn == nil {
		s.out.Error(fmt.Sprintf("%v: use /connect <host:port>", ErrNotConnected))
		return
	}
	if err := s.conn.Send(msg); err != nil {
		s.out.Error(err.Error())
	}
}

func (s *Session) connect(ctx context.Context, address string) {
	if s.conn != nil {
		s.disconnect()
	}

	conn, err := s.manager.Connect(ctx, address)
	if err != nil {
		s.out.Error(err.Error())
		return
	}
	s.conn = conn
	s.out.Notice(fmt.Sprintf("connected to %s", address))
}

func (s *Session) disconnect() {
	if s.conn == nil {
		return
	}
	s.manager.Disconnect(s.conn)
	s.conn = nil
}
