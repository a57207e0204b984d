package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/linkchat/internal/adapter"
	"github.com/1ureka/linkchat/internal/protocol"
	"github.com/1ureka/linkchat/internal/util"
)

// Sender is the part of adapter.Endpoint a session needs.
type Sender interface {
	Send(data []byte, typ protocol.Type) (uint32, error)
	SendWait(ctx context.Context, data []byte, typ protocol.Type) (uint32, error)
}

// Options configures a Session.
type Options struct {
	Alias  string
	Addr   string // Local link address announced in HELLO; empty if unknown
	OutDir string
	Out    io.Writer         // Defaults to os.Stdout
	Info   func() [][]string // Setting/value rows shown by /info

	// /discover repeats HELLO every DiscoverInterval for DiscoverWindow.
	DiscoverWindow   time.Duration
	DiscoverInterval time.Duration
}

// Discovery defaults.
const (
	DefaultDiscoverWindow   = 10 * time.Second
	DefaultDiscoverInterval = time.Second
)

const helpText = "Type a message and press Enter. Commands: /sendfile <path>, /hello, /discover [seconds], /info, /quit"

var peerPrinter = *pterm.Success.WithPrefix(pterm.Prefix{Text: " PEER ", Style: pterm.Success.Prefix.Style})

// Session is an interactive chat over one endpoint.
type Session struct {
	sender Sender
	disp   *Dispatcher
	inbox  *Inbox
	opts   Options

	msgs   <-chan adapter.Message
	files  <-chan adapter.Message
	hellos <-chan adapter.Message

	outMu sync.Mutex
}

// NewSession creates a session sending through s. Wire Deliver to the
// endpoint's OnMessage.
func NewSession(s Sender, opts Options) *Session {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.OutDir == "" {
		opts.OutDir = "."
	}
	if opts.DiscoverWindow <= 0 {
		opts.DiscoverWindow = DefaultDiscoverWindow
	}
	if opts.DiscoverInterval <= 0 {
		opts.DiscoverInterval = DefaultDiscoverInterval
	}

	d := NewDispatcher()
	return &Session{
		sender: s,
		disp:   d,
		inbox:  NewInbox(opts.OutDir),
		opts:   opts,
		msgs:   d.Register(protocol.TypeMsg),
		files:  d.Register(protocol.TypeFile),
		hellos: d.RegisterLossy(protocol.TypeHello),
	}
}

// Deliver queues an inbound message for display.
func (s *Session) Deliver(msg adapter.Message) {
	s.disp.Dispatch(msg)
}

// Run prints inbound messages and executes lines read from in until /quit,
// end of input, or ctx is done.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.disp.Close()

	go s.consume(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	s.printf(pterm.Info, "%s", helpText)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if s.Handle(ctx, line) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Handle executes one input line and reports whether the session should end.
func (s *Session) Handle(ctx context.Context, line string) bool {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return false
	}

	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "/quit", "/exit":
		return true

	case "/hello":
		if s.sendHello() {
			s.printf(pterm.Info, "hello sent as %q", s.opts.Alias)
		}

	case "/discover":
		s.discover(ctx, strings.TrimSpace(arg))

	case "/info":
		s.printInfo()

	case "/sendfile":
		s.sendFile(ctx, strings.TrimSpace(arg))

	case "/help":
		s.printf(pterm.Info, "%s", helpText)

	default:
		if strings.HasPrefix(cmd, "/") {
			s.printf(pterm.Warning, "unknown command %s. %s", cmd, helpText)
			return false
		}
		if _, err := s.sender.Send([]byte(line), protocol.TypeMsg); err != nil {
			s.printf(pterm.Warning, "failed to send message: %v", err)
		}
	}
	return false
}

func (s *Session) sendHello() bool {
	payload := EncodeHello(Hello{Alias: s.opts.Alias, Addr: s.opts.Addr})
	if _, err := s.sender.Send(payload, protocol.TypeHello); err != nil {
		s.printf(pterm.Warning, "failed to send hello: %v", err)
		return false
	}
	return true
}

// discover announces this peer repeatedly for a listening window. Replies are
// printed by the consumer as they arrive.
func (s *Session) discover(ctx context.Context, arg string) {
	window := s.opts.DiscoverWindow
	if arg != "" {
		secs, err := strconv.Atoi(arg)
		if err != nil || secs <= 0 {
			s.printf(pterm.Warning, "usage: /discover [seconds]")
			return
		}
		window = time.Duration(secs) * time.Second
	}

	s.printf(pterm.Info, "discovering peers for %s...", window)
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.DiscoverInterval)
	defer ticker.Stop()

	sent := 0
	for {
		if s.sendHello() {
			sent++
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			s.printf(pterm.Info, "discovery finished, %d hellos sent", sent)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) sendFile(ctx context.Context, path string) {
	if path == "" {
		s.printf(pterm.Warning, "usage: /sendfile <path>")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.printf(pterm.Warning, "cannot read file: %v", err)
		return
	}
	payload, err := WrapFile(path, data)
	if err != nil {
		s.printf(pterm.Warning, "cannot send %s: %v", path, err)
		return
	}

	name := filepath.Base(path)
	s.printf(pterm.Info, "sending %s (%d bytes)...", name, len(data))
	id, err := s.sender.SendWait(ctx, payload, protocol.TypeFile)
	if err != nil {
		s.printf(pterm.Warning, "[%08x] file %s not delivered: %v", id, name, err)
		return
	}
	s.printf(pterm.Success, "[%08x] file sent: %s (%d bytes)", id, name, len(data))
}

func (s *Session) printInfo() {
	rows := [][]string{{"Setting", "Value"}}
	if s.opts.Info != nil {
		rows = append(rows, s.opts.Info()...)
	}
	rows = append(rows,
		[]string{"Alias", s.opts.Alias},
		[]string{"Output dir", s.inbox.Dir()},
		[]string{"Stats", util.Stats.Snapshot().String()},
	)

	s.outMu.Lock()
	defer s.outMu.Unlock()
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).WithWriter(s.opts.Out).Render(); err != nil {
		util.LogDebug("failed to render info table: %v", err)
	}
}

// consume drains the per-type inboxes until ctx is done.
func (s *Session) consume(ctx context.Context) {
	for {
		select {
		case m := <-s.msgs:
			s.show(m)
		case m := <-s.files:
			s.show(m)
		case m := <-s.hellos:
			s.show(m)
		case <-ctx.Done():
			return
		}
	}
}

// show renders one inbound message, saving FILE payloads to the inbox.
func (s *Session) show(m adapter.Message) {
	switch m.Type {
	case protocol.TypeMsg:
		s.printf(peerPrinter, "[%08x] %s", m.ID, string(m.Data))

	case protocol.TypeFile:
		path, n, err := s.inbox.Save(m.ID, m.Data)
		if err != nil {
			s.printf(pterm.Error, "[%08x] failed to save file: %v", m.ID, err)
			return
		}
		s.printf(pterm.Success, "[%08x] file received: %s (%d bytes)", m.ID, path, n)

	case protocol.TypeHello:
		h, ok := ParseHello(m.Data)
		if !ok {
			s.printf(pterm.Warning, "[%08x] malformed hello", m.ID)
			return
		}
		alias := h.Alias
		if alias == "" {
			alias = "LinkChat User"
		}
		s.printf(pterm.Info, "hello from %s (%s)", alias, h.Addr)
	}
}

func (s *Session) printf(p pterm.PrefixPrinter, format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	p.WithWriter(s.opts.Out).Println(fmt.Sprintf(format, args...))
}
