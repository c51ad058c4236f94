package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/omochice/framechat/pkg/protocol"
)

// Output receives everything the client shows to the user. Implementations
// must be safe for concurrent use: the session and the receive loop both
// write to it.
type Output interface {
	// Render displays a message received from the server.
	Render(msg protocol.Message)
	// Notice displays a status line.
	Notice(text string)
	// Warning displays a recoverable problem.
	Warning(text string)
	// Error displays a failed command.
	Error(text string)
}

// receiver is the receive loop of one Connection.
type receiver struct {
	stream  Stream
	dec     *protocol.Decoder
	stop    *atomic.Bool
	out     Output
	logger  *slog.Logger
	limiter *rate.Limiter

	lost atomic.Bool
	done chan struct{}
}

func newReceiver(stream Stream, stop *atomic.Bool, out Output, logger *slog.Logger, maxFrameSize uint32) *receiver {
	return &receiver{
		stream:  stream,
		dec:     protocol.NewDecoder(stream, protocol.WithMaxFrameSize(maxFrameSize)),
		stop:    stop,
		out:     out,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 3),
		done:    make(chan struct{}),
	}
}

// run decodes frames until the stop flag is set or the peer goes away.
func (r *receiver) run() {
	defer close(r.done)

	for !r.stop.Load() {
		msg, err := r.dec.Decode()
		if err == nil {
			r.out.Render(msg)
			continue
		}

		if r.stop.Load() {
			return
		}

		switch {
		case protocol.IsTimeout(err):
			continue
		case isPeerGone(err):
			r.logger.Info("connection closed by peer", "addr", r.stream.RemoteAddr(), "error", err)
			r.lost.Store(true)
			r.out.Notice("connection closed by peer")
			return
		case errors.Is(err, protocol.ErrMalformed), errors.Is(err, protocol.ErrUnknownTag):
			r.logger.Warn("discarding frame", "error", err)
			r.out.Warning(fmt.Sprintf("discarded frame: %v", err))
		default:
			r.logger.Warn("receive failed", "error", err)
			r.out.Warning(fmt.Sprintf("receive failed: %v", err))
			_ = r.limiter.Wait(context.Background())
		}
	}
}

// isPeerGone reports whether err means the stream can never deliver again.
func isPeerGone(err error) bool {
	return errors.Is(err, protocol.ErrConnectionClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED)
}
