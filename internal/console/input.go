// Package console connects the chat client to a terminal: line input with
// history and styled output.
package console

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"
)

// Input is a line source that must be closed after use.
type Input interface {
	ReadLine() (string, error)
	Close() error
}

// Prompt reads lines interactively with editing and history.
type Prompt struct {
	line        *liner.State
	prompt      string
	historyFile string
}

// NewPrompt creates an interactive prompt. History is loaded from and saved
// to historyFile when it is not empty.
func NewPrompt(prompt, historyFile string) *Prompt {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	p := &Prompt{
		line:        line,
		prompt:      prompt,
		historyFile: historyFile,
	}
	p.loadHistory()
	return p
}

// ReadLine reads one trimmed line. Ctrl-C and Ctrl-D end input with io.EOF.
func (p *Prompt) ReadLine() (string, error) {
	input, err := p.line.Prompt(p.prompt)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", io.EOF
		}
		return "", err
	}

	input = strings.TrimSpace(input)
	if input != "" {
		p.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history and restores the terminal.
func (p *Prompt) Close() error {
	p.saveHistory()
	return p.line.Close()
}

func (p *Prompt) loadHistory() {
	if p.historyFile == "" {
		return
	}
	if f, err := os.Open(p.historyFile); err == nil {
		_, _ = p.line.ReadHistory(f)
		f.Close()
	}
}

func (p *Prompt) saveHistory() {
	if p.historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.historyFile), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(p.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = p.line.WriteHistory(f)
}

// Scanner reads lines from a non-interactive source such as a pipe.
type Scanner struct {
	scanner *bufio.Scanner
}

// NewScanner creates a Scanner over r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{scanner: bufio.NewScanner(r)}
}

// ReadLine returns the next trimmed line, or io.EOF at the end of input.
func (s *Scanner) ReadLine() (string, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(s.scanner.Text()), nil
}

// Close is a no-op.
func (s *Scanner) Close() error {
	return nil
}

// Open returns an interactive Prompt when stdin is a terminal and a Scanner
// over stdin otherwise.
func Open(prompt, historyFile string) Input {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return NewPrompt(prompt, historyFile)
	}
	return NewScanner(os.Stdin)
}
