// Package chat provides the relay's client registry shared by all transports.
package chat

import "io"

// Conn is a client connection carrying a stream of frames, whatever the
// transport underneath.
type Conn interface {
	// Read and Write carry raw frame bytes. Read returns io.EOF once the
	// client has gone.
	io.ReadWriteCloser

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
