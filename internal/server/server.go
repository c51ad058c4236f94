// Package server implements the framechat relay server. One port serves raw
// frame streams over TCP and the same frames over WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omochice/framechat/internal/chat"
	"github.com/omochice/framechat/pkg/protocol"
)

// Options configures a Server.
type Options struct {
	// Address is the TCP address to listen on, e.g. ":7000".
	Address string
	// MetricsAddress serves /metrics over HTTP when set.
	MetricsAddress string
	// MaxFrameSize limits frames read from clients.
	MaxFrameSize uint32
	// Greeting is sent to a client when it first registers.
	Greeting string
	// OutgoingBuffer is the number of frames queued per client.
	OutgoingBuffer int
	Logger         *slog.Logger
}

// Server relays chat messages between clients.
type Server struct {
	opts     Options
	logger   *slog.Logger
	hub      *chat.Hub
	metrics  *metrics
	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Server instance.
func New(opts Options) *Server {
	if opts.MaxFrameSize == 0 {
		opts.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if opts.OutgoingBuffer <= 0 {
		opts.OutgoingBuffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Server{
		opts:    opts,
		logger:  opts.Logger,
		hub:     chat.NewHub(),
		metrics: newMetrics(),
		conns:   make(map[net.Conn]struct{}),
		quit:    make(chan struct{}),
	}
}

// Start opens the listener. Run calls it when needed.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.logger.Info("server started", "addr", listener.Addr().String())
	return nil
}

// Run serves clients until ctx is done or the server fails, then stops the
// server.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Start(); err != nil {
			return err
		}
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(s.acceptConnections)

	var metricsServer *http.Server
	if s.opts.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.MetricsHandler())
		metricsServer = &http.Server{
			Addr:              s.opts.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		group.Go(func() error {
			s.logger.Info("metrics server started", "addr", s.opts.MetricsAddress)
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		select {
		case <-ctx.Done():
		case <-s.quit:
		}
		s.Stop()
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	return group.Wait()
}

// Stop closes the listener and every client connection, then waits for
// their handlers. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.logger.Info("server stopped")
	})
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// MetricsHandler serves the server's Prometheus metrics.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.handler()
}

func (s *Server) stopping() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// acceptConnections accepts connections until the server stops.
func (s *Server) acceptConnections() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopping() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Warn("failed to accept connection", "error", err)
				continue
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.handleConnection(conn)
	}
}

// track records conn so Stop can close it and wait for its handler. It
// reports false once the server is stopping.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// handleConnection determines whether the connection is WebSocket or raw
// TCP and serves it.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	logger := s.logger.With("addr", conn.RemoteAddr().String())

	proto, reader, err := detectProtocol(conn)
	if err != nil {
		logger.Debug("connection closed before protocol detection", "error", err)
		return
	}

	var client chat.Conn
	switch proto {
	case protocolHTTP:
		wc, err := UpgradeWebSocket(conn, reader)
		if err != nil {
			logger.Warn("failed to upgrade connection", "error", err)
			return
		}
		client = wc
	default:
		client = NewTCPConnection(conn, reader)
	}

	s.serveClient(client, logger.With("transport", proto.String()))
}

// serveClient runs a registered client until it disconnects.
func (s *Server) serveClient(conn chat.Conn, logger *slog.Logger) {
	client := chat.NewClient(conn, s.opts.OutgoingBuffer)
	logger = logger.With("client", client.ID)

	s.hub.Register(client)
	s.metrics.connectedClients.Inc()
	logger.Info("client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for frame := range client.Outgoing {
			if _, err := client.Conn.Write(frame); err != nil {
				logger.Debug("failed to send frame", "error", err)
				return
			}
		}
	}()

	defer func() {
		s.hub.Unregister(client)
		s.metrics.connectedClients.Dec()
		close(client.Outgoing)
		client.Conn.Close()
		<-writerDone

		if name := client.Username; name != "" {
			s.broadcast(protocol.ServerInfo(name+" left"), nil)
		}
		logger.Info("client disconnected")
	}()

	dec := protocol.NewDecoder(client.Conn, protocol.WithMaxFrameSize(s.opts.MaxFrameSize))
	for {
		msg, err := dec.Decode()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrUnknownTag) {
				s.metrics.decodeErrors.Inc()
				logger.Warn("discarding frame", "error", err)
				continue
			}
			if !errors.Is(err, protocol.ErrConnectionClosed) && !s.stopping() {
				logger.Warn("failed to read from client", "error", err)
			}
			return
		}

		s.metrics.framesReceived.WithLabelValues(msg.Kind.String()).Inc()
		s.handleMessage(client, msg, logger)
	}
}

func (s *Server) handleMessage(client *chat.Client, msg protocol.Message, logger *slog.Logger) {
	switch msg.Kind {
	case protocol.KindRegisterUsername:
		name := strings.TrimSpace(msg.Payload)
		if name == "" {
			s.reply(client, protocol.ServerInfo("username must not be empty"))
			return
		}

		previous := s.hub.Rename(client, name)
		switch previous {
		case "":
			logger.Info("user registered", "username", name, "online", s.hub.Usernames())
			if s.opts.Greeting != "" {
				s.reply(client, protocol.ServerInfo(s.opts.Greeting))
			}
			s.broadcast(protocol.ServerInfo(name+" joined"), client)
		case name:
		default:
			logger.Info("user renamed", "from", previous, "to", name)
			s.broadcast(protocol.ServerInfo(fmt.Sprintf("%s is now %s", previous, name)), nil)
		}

	case protocol.KindUserText:
		name := s.hub.Username(client)
		if name == "" {
			s.reply(client, protocol.ServerInfo("register first: /register <name>"))
			return
		}
		logger.Debug("message", "username", name, "text", msg.Payload)
		s.broadcast(protocol.UserText(name+": "+msg.Payload), client)

	case protocol.KindServerInfo:
		logger.Warn("ignoring server info sent by client")
	}
}

func (s *Server) reply(client *chat.Client, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("failed to encode message", "error", err)
		return
	}
	if !s.hub.Send(client, frame) {
		s.metrics.framesDropped.Inc()
	}
}

func (s *Server) broadcast(msg protocol.Message, except *chat.Client) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error("failed to encode message", "error", err)
		return
	}
	if dropped := s.hub.Broadcast(frame, except); dropped > 0 {
		s.metrics.framesDropped.Add(float64(dropped))
		s.logger.Warn("client queues full, frame dropped", "clients", dropped)
	}
}
