package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
)

// Errors returned by the frame codec.
var (
	// ErrConnectionClosed is returned when the peer closed the stream.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrMalformed is returned when a frame fails length or UTF-8 validation.
	ErrMalformed = errors.New("malformed frame")
	// ErrUnknownTag is returned when a frame carries no recognised tag.
	ErrUnknownTag = errors.New("unknown message tag")
	// ErrFrameTooLarge is returned when a frame exceeds the size limit.
	ErrFrameTooLarge = fmt.Errorf("%w: frame too large", ErrMalformed)
)

// HeaderSize is the size of the big-endian length prefix.
const HeaderSize = 4

// DefaultMaxFrameSize is the frame size limit used by the client and the
// relay server unless configured otherwise.
const DefaultMaxFrameSize = 1 << 20

// maxEmptyReads bounds consecutive zero-byte reads that report no error.
const maxEmptyReads = 100

// PutLength converts a frame length to its big-endian prefix.
func PutLength(n uint32) [HeaderSize]byte {
	var b [HeaderSize]byte
	binary.BigEndian.PutUint32(b[:], n)
	return b
}

// Length converts a big-endian prefix back to a frame length.
func Length(b [HeaderSize]byte) uint32 {
	return binary.BigEndian.Uint32(b[:])
}

// Encode encodes the message into a length-prefixed frame.
func Encode(m Message) ([]byte, error) {
	s := m.String()
	if uint64(len(s)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(s))
	}

	header := PutLength(uint32(len(s)))
	frame := make([]byte, 0, HeaderSize+len(s))
	frame = append(frame, header[:]...)
	frame = append(frame, s...)
	return frame, nil
}

// WriteMessage encodes the message and writes the frame with a single Write.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadMessage reads and decodes exactly one frame from r.
func ReadMessage(r io.Reader) (Message, error) {
	return NewDecoder(r).Decode()
}

type decodeState int

const (
	stateHeader decodeState = iota
	statePayload
	stateDiscard
)

// Decoder decodes a stream of frames.
//
// A read that fails with a timeout leaves the partially read frame in the
// decoder, and the next call to Decode continues it. Reading with deadlines
// therefore never loses or misaligns data.
type Decoder struct {
	r       io.Reader
	maxSize uint32

	state   decodeState
	header  [HeaderSize]byte
	headerN int
	payload []byte
	payN    int

	// discard tracks an oversized frame being skipped.
	discard  uint32
	declared uint32
	scratch  []byte
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxFrameSize limits the declared length of accepted frames.
// Oversized frames are skipped and reported as ErrFrameTooLarge.
// Zero means no limit.
func WithMaxFrameSize(n uint32) DecoderOption {
	return func(d *Decoder) {
		d.maxSize = n
	}
}

// NewDecoder creates a Decoder reading from r. It never reads past the end
// of the frame it is decoding.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{r: r}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Decode reads the next frame and decodes it into a Message.
func (d *Decoder) Decode() (Message, error) {
	for {
		switch d.state {
		case stateHeader:
			if err := d.fill(d.header[:], &d.headerN); err != nil {
				return Message{}, d.fail(err)
			}
			size := Length(d.header)
			d.headerN = 0

			if d.maxSize > 0 && size > d.maxSize {
				d.discard = size
				d.declared = size
				d.state = stateDiscard
				continue
			}
			d.payload = make([]byte, size)
			d.payN = 0
			d.state = statePayload

		case statePayload:
			if err := d.fill(d.payload, &d.payN); err != nil {
				return Message{}, d.fail(err)
			}
			payload := d.payload
			d.payload = nil
			d.state = stateHeader
			return ParseMessage(payload)

		case stateDiscard:
			if err := d.skip(); err != nil {
				return Message{}, d.fail(err)
			}
			d.state = stateHeader
			return Message{}, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, d.declared, d.maxSize)
		}
	}
}

// fill reads into buf[*n:] until buf is full, advancing *n as bytes arrive.
func (d *Decoder) fill(buf []byte, n *int) error {
	empty := 0
	for *n < len(buf) {
		k, err := d.r.Read(buf[*n:])
		*n += k
		if err != nil {
			if *n == len(buf) && errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if k > 0 {
			empty = 0
			continue
		}
		if empty++; empty >= maxEmptyReads {
			return io.ErrNoProgress
		}
	}
	return nil
}

// skip drops the remaining bytes of an oversized frame.
func (d *Decoder) skip() error {
	if d.scratch == nil {
		d.scratch = make([]byte, 4096)
	}
	empty := 0
	for d.discard > 0 {
		buf := d.scratch
		if uint32(len(buf)) > d.discard {
			buf = buf[:d.discard]
		}
		k, err := d.r.Read(buf)
		d.discard -= uint32(k)
		if err != nil {
			if d.discard == 0 && errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if k > 0 {
			empty = 0
			continue
		}
		if empty++; empty >= maxEmptyReads {
			return io.ErrNoProgress
		}
	}
	return nil
}

// fail classifies a read error. Timeouts and transport errors keep the
// partial frame; end of stream and lack of progress reset it.
func (d *Decoder) fail(err error) error {
	if IsTimeout(err) {
		return err
	}

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		midFrame := d.state != stateHeader || d.headerN > 0
		d.reset()
		if midFrame {
			return fmt.Errorf("%w: peer closed mid-frame", ErrConnectionClosed)
		}
		return ErrConnectionClosed
	case errors.Is(err, io.ErrNoProgress):
		d.reset()
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	default:
		return err
	}
}

func (d *Decoder) reset() {
	d.state = stateHeader
	d.headerN = 0
	d.payload = nil
	d.payN = 0
	d.discard = 0
}

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
