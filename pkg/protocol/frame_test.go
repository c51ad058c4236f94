package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"math"
	"os"
	"strings"
	"testing"
	"testing/iotest"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/framechat/pkg/protocol"
)

// step is one scripted Read result.
type step struct {
	data []byte
	err  error
}

// scriptedReader returns its steps in order, splitting data across reads
// when the caller's buffer is smaller. It reports io.EOF once exhausted.
type scriptedReader struct {
	steps []step
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if len(r.steps) == 0 {
		return 0, io.EOF
	}
	s := &r.steps[0]
	n := copy(p, s.data)
	s.data = s.data[n:]
	if len(s.data) == 0 {
		err := s.err
		r.steps = r.steps[1:]
		return n, err
	}
	return n, nil
}

// writeCounter counts Write calls.
type writeCounter struct {
	bytes.Buffer
	calls int
}

func (w *writeCounter) Write(p []byte) (int, error) {
	w.calls++
	return w.Buffer.Write(p)
}

func mustEncode(t *testing.T, m protocol.Message) []byte {
	t.Helper()
	frame, err := protocol.Encode(m)
	require.NoError(t, err)
	return frame
}

func rawFrame(body string) []byte {
	header := protocol.PutLength(uint32(len(body)))
	return append(header[:], body...)
}

func TestLength_RoundTrip(t *testing.T) {
	roundTrip := func(x uint32) bool {
		return protocol.Length(protocol.PutLength(x)) == x
	}
	require.NoError(t, quick.Check(roundTrip, nil))

	for _, x := range []uint32{0, 1, 255, 256, 65535, 65536, 1 << 24, math.MaxUint32 - 1, math.MaxUint32} {
		assert.True(t, roundTrip(x), "round trip of %d", x)
	}
}

func TestPutLength_BigEndian(t *testing.T) {
	assert.Equal(t, [4]byte{0x00, 0x00, 0x01, 0x02}, protocol.PutLength(258))
	assert.Equal(t, [4]byte{0xde, 0xad, 0xbe, 0xef}, protocol.PutLength(0xdeadbeef))
	assert.Equal(t, uint32(0x01020304), protocol.Length([4]byte{1, 2, 3, 4}))
}

func TestEncode(t *testing.T) {
	frame := mustEncode(t, protocol.UserText("héllo"))

	body := "UserText|héllo"
	require.Len(t, frame, protocol.HeaderSize+len(body))
	assert.Equal(t, uint32(len(body)), protocol.Length([4]byte(frame[:4])))
	assert.Equal(t, body, string(frame[4:]))
}

func TestWriteMessage_SingleWrite(t *testing.T) {
	var w writeCounter
	require.NoError(t, protocol.WriteMessage(&w, protocol.RegisterUsername("alice")))

	assert.Equal(t, 1, w.calls)
	assert.Equal(t, rawFrame("RegisterUsername|alice"), w.Bytes())
}

func TestReadMessage_RoundTrip(t *testing.T) {
	messages := []protocol.Message{
		protocol.UserText("hello world"),
		protocol.UserText(""),
		protocol.UserText("pipes | inside | payload"),
		protocol.UserText("日本語のテキスト"),
		protocol.RegisterUsername("alice"),
		protocol.ServerInfo("alice joined"),
		protocol.ServerInfo(strings.Repeat("x", 70000)),
	}

	for _, m := range messages {
		t.Run(m.Kind.String(), func(t *testing.T) {
			got, err := protocol.ReadMessage(bytes.NewReader(mustEncode(t, m)))
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

func TestReadMessage_RoundTripAnyPayload(t *testing.T) {
	kinds := []protocol.Kind{protocol.KindUserText, protocol.KindRegisterUsername, protocol.KindServerInfo}

	roundTrip := func(k uint8, payload string) bool {
		m := protocol.Message{
			Kind:    kinds[int(k)%len(kinds)],
			Payload: strings.ToValidUTF8(payload, "�"),
		}
		frame, err := protocol.Encode(m)
		if err != nil {
			return false
		}
		got, err := protocol.ReadMessage(bytes.NewReader(frame))
		return err == nil && got == m
	}
	require.NoError(t, quick.Check(roundTrip, &quick.Config{MaxCount: 500}))
}

func TestDecoder_ConcatenatedFrames(t *testing.T) {
	first := protocol.UserText("first|frame")
	second := protocol.ServerInfo("second frame")
	stream := append(mustEncode(t, first), mustEncode(t, second)...)

	readers := map[string]func(io.Reader) io.Reader{
		"whole":    func(r io.Reader) io.Reader { return r },
		"one byte": iotest.OneByteReader,
		"half":     iotest.HalfReader,
	}

	for name, wrap := range readers {
		t.Run(name, func(t *testing.T) {
			dec := protocol.NewDecoder(wrap(bytes.NewReader(stream)))

			got, err := dec.Decode()
			require.NoError(t, err)
			assert.Equal(t, first, got)

			got, err = dec.Decode()
			require.NoError(t, err)
			assert.Equal(t, second, got)

			_, err = dec.Decode()
			assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
		})
	}
}

func TestDecoder_EndOfStream(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty stream", nil},
		{"partial header", []byte{0x00, 0x00}},
		{"truncated payload", rawFrame("UserText|hello")[:10]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := protocol.ReadMessage(bytes.NewReader(tt.data))
			require.ErrorIs(t, err, protocol.ErrConnectionClosed)
			assert.NotErrorIs(t, err, protocol.ErrMalformed)
		})
	}
}

func TestDecoder_DataWithEOF(t *testing.T) {
	r := iotest.DataErrReader(bytes.NewReader(mustEncode(t, protocol.UserText("last"))))

	got, err := protocol.ReadMessage(r)
	require.NoError(t, err)
	assert.Equal(t, protocol.UserText("last"), got)
}

func TestDecoder_BadFramesKeepAlignment(t *testing.T) {
	var stream []byte
	stream = append(stream, rawFrame("UserText|\xff\xfe")...)
	stream = append(stream, rawFrame("Shout|HELLO")...)
	stream = append(stream, rawFrame("")...)
	stream = append(stream, mustEncode(t, protocol.UserText("still aligned"))...)

	dec := protocol.NewDecoder(bytes.NewReader(stream))

	_, err := dec.Decode()
	assert.ErrorIs(t, err, protocol.ErrMalformed)

	_, err = dec.Decode()
	assert.ErrorIs(t, err, protocol.ErrUnknownTag)

	_, err = dec.Decode()
	assert.ErrorIs(t, err, protocol.ErrUnknownTag)

	got, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, protocol.UserText("still aligned"), got)
}

func TestDecoder_MaxFrameSize(t *testing.T) {
	big := protocol.UserText(strings.Repeat("a", 10000))
	next := protocol.UserText("after the big one")
	stream := append(mustEncode(t, big), mustEncode(t, next)...)

	dec := protocol.NewDecoder(iotest.HalfReader(bytes.NewReader(stream)), protocol.WithMaxFrameSize(1024))

	_, err := dec.Decode()
	require.ErrorIs(t, err, protocol.ErrFrameTooLarge)
	assert.ErrorIs(t, err, protocol.ErrMalformed)

	got, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestDecoder_TimeoutResumesFrame(t *testing.T) {
	frame := mustEncode(t, protocol.ServerInfo("resumed after timeouts"))
	follow := mustEncode(t, protocol.UserText("next"))

	r := &scriptedReader{steps: []step{
		{data: frame[:2], err: os.ErrDeadlineExceeded},
		{data: frame[2:7], err: os.ErrDeadlineExceeded},
		{err: os.ErrDeadlineExceeded},
		{data: frame[7:]},
		{data: follow},
	}}
	dec := protocol.NewDecoder(r)

	timeouts := 0
	var got protocol.Message
	for {
		m, err := dec.Decode()
		if protocol.IsTimeout(err) {
			timeouts++
			continue
		}
		require.NoError(t, err)
		got = m
		break
	}
	assert.Equal(t, 3, timeouts)
	assert.Equal(t, protocol.ServerInfo("resumed after timeouts"), got)

	m, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, protocol.UserText("next"), m)
}

func TestDecoder_TimeoutWhileDiscarding(t *testing.T) {
	big := mustEncode(t, protocol.UserText(strings.Repeat("b", 64)))
	next := mustEncode(t, protocol.UserText("ok"))

	r := &scriptedReader{steps: []step{
		{data: big[:20], err: os.ErrDeadlineExceeded},
		{data: big[20:]},
		{data: next},
	}}
	dec := protocol.NewDecoder(r, protocol.WithMaxFrameSize(16))

	_, err := dec.Decode()
	require.True(t, protocol.IsTimeout(err))

	_, err = dec.Decode()
	require.ErrorIs(t, err, protocol.ErrFrameTooLarge)

	m, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, protocol.UserText("ok"), m)
}

func TestDecoder_TransportErrorKeepsState(t *testing.T) {
	frame := mustEncode(t, protocol.UserText("survives"))
	boom := errors.New("boom")

	r := &scriptedReader{steps: []step{
		{data: frame[:6], err: boom},
		{data: frame[6:]},
	}}
	dec := protocol.NewDecoder(r)

	_, err := dec.Decode()
	require.ErrorIs(t, err, boom)

	m, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, protocol.UserText("survives"), m)
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, nil }

func TestDecoder_NoProgress(t *testing.T) {
	_, err := protocol.ReadMessage(emptyReader{})
	require.ErrorIs(t, err, protocol.ErrMalformed)
	assert.ErrorIs(t, err, io.ErrNoProgress)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, protocol.IsTimeout(os.ErrDeadlineExceeded))
	assert.False(t, protocol.IsTimeout(io.EOF))
	assert.False(t, protocol.IsTimeout(nil))
}
