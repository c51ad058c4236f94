package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/omochice/framechat/pkg/protocol"
)

// Printer writes client output as lines. Markers are coloured when w is a
// colour terminal. It is safe for concurrent use.
type Printer struct {
	mu sync.Mutex
	w  io.Writer

	info    lipgloss.Style
	notice  lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:       w,
		info:    r.NewStyle().Foreground(lipgloss.Color("#22D3EE")).Bold(true),
		notice:  r.NewStyle().Foreground(lipgloss.Color("240")),
		warning: r.NewStyle().Foreground(lipgloss.Color("#FBBF24")).Bold(true),
		failure: r.NewStyle().Foreground(lipgloss.Color("#FB7185")).Bold(true),
	}
}

// Render prints a message from the server.
func (p *Printer) Render(msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindServerInfo:
		p.println(p.info.Render("*"), msg.Payload)
	case protocol.KindRegisterUsername:
		p.println(p.info.Render("*"), msg.Payload+" registered")
	default:
		p.println(msg.Payload)
	}
}

func (p *Printer) Notice(text string) {
	p.println(p.notice.Render("*"), text)
}

func (p *Printer) Warning(text string) {
	p.println(p.warning.Render("WARNING:"), text)
}

func (p *Printer) Error(text string) {
	p.println(p.failure.Render("ERROR:"), text)
}

func (p *Printer) println(parts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, strings.Join(parts, " "))
}
