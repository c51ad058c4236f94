package client

import "strings"

// CommandKind identifies a user command.
type CommandKind int

const (
	CommandText CommandKind = iota
	CommandRegister
	CommandConnect
	CommandDisconnect
	CommandQuit
)

// String returns the name of the command kind.
func (k CommandKind) String() string {
	switch k {
	case CommandText:
		return "text"
	case CommandRegister:
		return "register"
	case CommandConnect:
		return "connect"
	case CommandDisconnect:
		return "disconnect"
	case CommandQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Command is one parsed line of user input.
type Command struct {
	Kind CommandKind
	// Arg is the text, username or address, depending on Kind.
	Arg string
}

const (
	registerPrefix = "/register "
	connectPrefix  = "/connect "
)

// ParseCommand turns one line of input into a Command. Anything that is not
// a recognised command is text.
func ParseCommand(line string) Command {
	switch {
	case strings.HasPrefix(line, registerPrefix):
		return Command{Kind: CommandRegister, Arg: line[len(registerPrefix):]}
	case line == "/quit":
		return Command{Kind: CommandQuit}
	case strings.HasPrefix(line, connectPrefix) && strings.Contains(line[len(connectPrefix):], ":"):
		return Command{Kind: CommandConnect, Arg: line[len(connectPrefix):]}
	case line == "/disconnect":
		return Command{Kind: CommandDisconnect}
	default:
		return Command{Kind: CommandText, Arg: line}
	}
}
