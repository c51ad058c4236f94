// Package protocol implements the framechat wire protocol: tagged text
// messages carried in length-prefixed frames.
package protocol

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// Kind identifies the variant of a Message.
type Kind int

const (
	KindUserText Kind = iota
	KindRegisterUsername
	KindServerInfo
)

// String returns the wire tag of the kind.
func (k Kind) String() string {
	switch k {
	case KindUserText:
		return "UserText"
	case KindRegisterUsername:
		return "RegisterUsername"
	case KindServerInfo:
		return "ServerInfo"
	default:
		return "Unknown"
	}
}

// Separator splits the tag from the payload in the canonical encoding.
const Separator = '|'

// Message is a decoded logical payload.
//
// UserText and RegisterUsername are sent by clients and ServerInfo by the
// server, but nothing on the wire enforces that.
type Message struct {
	Kind    Kind
	Payload string
}

// UserText creates a chat line to be broadcast.
func UserText(text string) Message {
	return Message{Kind: KindUserText, Payload: text}
}

// RegisterUsername creates a request to bind a display name to the connection.
func RegisterUsername(name string) Message {
	return Message{Kind: KindRegisterUsername, Payload: name}
}

// ServerInfo creates informational text originated by the server.
func ServerInfo(text string) Message {
	return Message{Kind: KindServerInfo, Payload: text}
}

// String returns the canonical "<Tag>|<payload>" encoding.
func (m Message) String() string {
	return m.Kind.String() + string(Separator) + m.Payload
}

// tagPrefixes lists the recognised prefixes in match order.
var tagPrefixes = []struct {
	kind   Kind
	prefix []byte
}{
	{KindUserText, []byte("UserText|")},
	{KindRegisterUsername, []byte("RegisterUsername|")},
	{KindServerInfo, []byte("ServerInfo|")},
}

// ParseMessage decodes the canonical encoding of a message.
//
// The payload keeps any '|' it contains; only the leading tag is matched.
func ParseMessage(data []byte) (Message, error) {
	if !utf8.Valid(data) {
		return Message{}, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformed)
	}

	for _, tp := range tagPrefixes {
		if bytes.HasPrefix(data, tp.prefix) {
			return Message{Kind: tp.kind, Payload: string(data[len(tp.prefix):])}, nil
		}
	}

	return Message{}, fmt.Errorf("%w: %q", ErrUnknownTag, tagOf(data))
}

// tagOf returns the text before the first separator, for error messages.
func tagOf(data []byte) string {
	const maxTagLen = 32

	if i := bytes.IndexByte(data, Separator); i >= 0 {
		data = data[:i]
	}
	if len(data) > maxTagLen {
		data = data[:maxTagLen]
	}
	return string(data)
}
