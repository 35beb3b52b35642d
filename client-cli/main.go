package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"asterchat/internal/client"
	"asterchat/internal/config"
	"asterchat/internal/dispatch"
	"asterchat/internal/notify"
	"asterchat/internal/session"
)

const (
	defaultWidth    = 80
	shutdownTimeout = 3 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		prefsPath string
		logLevel  string
		connect   []string
		join      string
		notifyOn  bool
	)
	flagSet := pflag.NewFlagSet("aster-cli", pflag.ContinueOnError)
	flagSet.StringVar(&prefsPath, "config", "", "preferences file (default <config dir>/aster/preferences.json)")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flagSet.StringSliceVar(&connect, "connect", nil, "additional [user@]host[:port] to connect to")
	flagSet.StringVar(&join, "join", "", "channel to select once the focused server is ready")
	flagSet.BoolVar(&notifyOn, "notify", false, "show desktop notifications")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", logLevel)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	if prefsPath == "" {
		path, err := config.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolving config dir: %w", err)
		}
		prefsPath = path
	}
	prefs, err := config.Load(prefsPath)
	if err != nil {
		return err
	}
	if err := config.TerminalPrompter().Fill(prefs); err != nil {
		return err
	}

	var notifier client.Notifier = notify.Discard{}
	if notifyOn {
		notifier = notify.NewDesktop("aster")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.Start(ctx, client.Config{
		Preferences: prefs,
		Logger:      logger,
		Notifier:    notifier,
		Width:       terminalWidth(),
	})
	defer func() {
		if !c.Stop(shutdownTimeout) {
			logger.Warn("connections did not close in time")
		}
	}()

	cctx := c.Context()
	c.ConnectAll(cctx)
	for _, target := range connect {
		if err := c.Execute(cctx, "/connect "+target); err != nil {
			logger.Warn("connect failed", "target", target, "error", err)
		}
	}

	go readInput(cctx, os.Stdin, c.Queue())

	p := newPrinter(os.Stdout, os.Stderr)
	p.pendingJoin = strings.TrimPrefix(join, "#")
	return consume(cctx, c, p)
}

// readInput publishes every stdin line as an InputEvent. EOF quits.
func readInput(ctx context.Context, in io.Reader, q *dispatch.Queue) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := q.Publish(ctx, dispatch.InputEvent{Payload: scanner.Text()}); err != nil {
			return
		}
	}
	_ = q.Publish(ctx, dispatch.InputEvent{Payload: "/quit"})
}

// consume is the headless counterpart of Client.Run: it applies every
// event and prints what changed.
func consume(ctx context.Context, c *client.Client, p *printer) error {
	q := c.Queue()
	for {
		ev, ok := q.Next(ctx)
		if !ok {
			return nil
		}
		c.Handle(ctx, ev)
		if c.Quitting() {
			return nil
		}
		p.joinWhenReady(ctx, c)
		p.print(c)
	}
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return defaultWidth
}

type seenKey struct {
	server  int
	channel int64
}

// printer writes messages as they arrive and edits as they happen.
type printer struct {
	out, errOut io.Writer

	seen        map[seenKey]map[int64]string
	lastStatus  string
	pendingJoin string
}

func newPrinter(out, errOut io.Writer) *printer {
	return &printer{out: out, errOut: errOut, seen: make(map[seenKey]map[int64]string)}
}

func (p *printer) joinWhenReady(ctx context.Context, c *client.Client) {
	if p.pendingJoin == "" {
		return
	}
	srv := c.Focused()
	if srv == nil {
		return
	}
	sess := srv.Session()
	if sess == nil || sess.Phase() != session.PhaseReady || len(sess.Channels) == 0 {
		return
	}
	name := p.pendingJoin
	p.pendingJoin = ""
	if err := c.Execute(ctx, "/join "+name); err != nil {
		fmt.Fprintln(p.errOut, err)
	}
}

func (p *printer) print(c *client.Client) {
	if s := c.Status(); s != p.lastStatus {
		p.lastStatus = s
		if s != "" {
			fmt.Fprintln(p.errOut, s)
		}
	}
	idx, ok := c.Focus()
	if !ok {
		return
	}
	sess := c.Servers[idx].Session()
	if sess == nil {
		return
	}
	ch, ok := sess.SelectedChannel()
	if !ok {
		return
	}
	key := seenKey{server: idx, channel: ch.ID}
	seen := p.seen[key]
	if seen == nil {
		seen = make(map[int64]string)
		p.seen[key] = seen
	}
	for _, lm := range sess.Visible() {
		prev, known := seen[lm.Message.ID]
		if known && prev == lm.Message.Content {
			continue
		}
		seen[lm.Message.ID] = lm.Message.Content
		if known {
			fmt.Fprintf(p.out, "[edited %d]\n", lm.Message.ID)
		}
		// Ids prefix the first line so /edit and /delete can name them.
		prefix := fmt.Sprintf("[%d] ", lm.Message.ID)
		pad := strings.Repeat(" ", len(prefix))
		for i, line := range lm.Lines {
			if i == 0 {
				fmt.Fprintln(p.out, prefix+line)
				continue
			}
			fmt.Fprintln(p.out, pad+line)
		}
	}
}
