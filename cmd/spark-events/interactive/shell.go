// Package interactive provides the interactive command-line interface
// for spark-events.
package interactive

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/phuongtg/spark-cloud-go/pkg/subscription"
	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

// Config provides settings to the shell.
type Config struct {
	// HistoryFile stores command history between runs. Optional.
	HistoryFile string
}

// Shell handles interactive mode for spark-events.
type Shell struct {
	watcher *Watcher
	router  Router
	rl      *readline.Instance
	out     io.Writer
}

// New creates a shell reading commands from the terminal.
func New(watcher *Watcher, router Router, cfg Config) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "spark> ",
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	s := newShell(watcher, router, rl.Stdout())
	s.rl = rl
	watcher.SetOutput(rl.Stdout())
	return s, nil
}

func newShell(watcher *Watcher, router Router, out io.Writer) *Shell {
	return &Shell{
		watcher: watcher,
		router:  router,
		out:     out,
	}
}

func completer() *readline.PrefixCompleter {
	scopes := func() []readline.PrefixCompleterInterface {
		return []readline.PrefixCompleterInterface{
			readline.PcItem("public"),
			readline.PcItem("mine"),
			readline.PcItem("device:"),
		}
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("sub", scopes()...),
		readline.PcItem("unsub"),
		readline.PcItem("pub", readline.PcItem("-private"), readline.PcItem("-ttl")),
		readline.PcItem("list"),
		readline.PcItem("status"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if s.Execute(ctx, line) {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns true when the user asked to quit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "sub", "subscribe", "s":
		s.cmdSubscribe(args)

	case "unsub", "unsubscribe", "u":
		s.cmdUnsubscribe(args)

	case "pub", "publish", "p":
		s.cmdPublish(ctx, args)

	case "list", "ls", "l":
		s.cmdList()

	case "status", "st":
		s.cmdStatus()

	case "quit", "exit", "q":
		return true

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Event Commands:
  Subscriptions:
    sub <scope> [prefix]              - Subscribe (scope: public, mine, device:<id>)
    unsub <watch-id>                  - Remove a subscription
    list                              - List subscriptions

  Publishing:
    pub [-private] [-ttl N] <name> [data...] - Publish an event

  General:
    status                            - Show connection status
    help                              - Show this help
    quit                              - Exit`)
}

// parseSubscribeArgs parses "<scope> [prefix]".
func parseSubscribeArgs(args []string) (wire.Scope, string, error) {
	if len(args) < 1 || len(args) > 2 {
		return wire.Scope{}, "", fmt.Errorf("usage: sub <scope> [prefix]")
	}
	scope, err := wire.ParseScope(args[0])
	if err != nil {
		return wire.Scope{}, "", err
	}
	prefix := ""
	if len(args) == 2 {
		prefix = args[1]
	}
	return scope, prefix, nil
}

// parsePublishArgs parses "[-private] [-ttl N] <name> [data...]". Data words
// are joined with single spaces.
func parsePublishArgs(args []string) (wire.PublishRequest, error) {
	fs := flag.NewFlagSet("pub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	private := fs.Bool("private", false, "publish privately")
	ttl := fs.Uint("ttl", uint(wire.DefaultTTL), "time to live in seconds")
	if err := fs.Parse(args); err != nil {
		return wire.PublishRequest{}, fmt.Errorf("usage: pub [-private] [-ttl N] <name> [data...]: %w", err)
	}
	if fs.NArg() < 1 {
		return wire.PublishRequest{}, fmt.Errorf("usage: pub [-private] [-ttl N] <name> [data...]")
	}
	if *ttl > wire.MaxTTL {
		return wire.PublishRequest{}, fmt.Errorf("ttl %d exceeds %d", *ttl, wire.MaxTTL)
	}

	req := wire.PublishRequest{
		Name:    fs.Arg(0),
		Data:    strings.Join(fs.Args()[1:], " "),
		Private: *private,
		TTL:     uint32(*ttl),
	}
	return req, req.Validate()
}

// cmdSubscribe handles the sub command.
func (s *Shell) cmdSubscribe(args []string) {
	scope, prefix, err := parseSubscribeArgs(args)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	id, err := s.watcher.Watch(scope, prefix)
	if err != nil {
		fmt.Fprintf(s.out, "Subscribe failed: %v\n", err)
		return
	}
	if prefix == "" {
		fmt.Fprintf(s.out, "Watch #%d: all events on %s\n", id, scope)
	} else {
		fmt.Fprintf(s.out, "Watch #%d: %q on %s\n", id, prefix, scope)
	}
}

// cmdUnsubscribe handles the unsub command.
func (s *Shell) cmdUnsubscribe(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: unsub <watch-id>")
		return
	}
	id, err := strconv.Atoi(strings.TrimPrefix(args[0], "#"))
	if err != nil {
		fmt.Fprintf(s.out, "Invalid watch id: %s\n", args[0])
		return
	}
	if err := s.watcher.Unwatch(id); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Watch #%d removed\n", id)
}

// cmdPublish handles the pub command.
func (s *Shell) cmdPublish(ctx context.Context, args []string) {
	req, err := parsePublishArgs(args)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.router.Publish(pubCtx, req.Name, req.Data, req.Private, req.TTL); err != nil {
		fmt.Fprintf(s.out, "Publish failed: %v\n", err)
		return
	}

	visibility := "public"
	if req.Private {
		visibility = "private"
	}
	fmt.Fprintf(s.out, "Published %s (%s, ttl %ds)\n", req.Name, visibility, req.TTL)
}

// cmdList handles the list command.
func (s *Shell) cmdList() {
	watches := s.watcher.Watches()
	if len(watches) == 0 {
		fmt.Fprintln(s.out, "No subscriptions")
		return
	}

	counts := make(map[subscription.Handle][2]int64)
	for _, info := range s.router.Subscriptions() {
		counts[info.Handle] = [2]int64{info.Delivered, info.Errors}
	}

	fmt.Fprintf(s.out, "\nSubscriptions (%d):\n", len(watches))
	fmt.Fprintln(s.out, "-------------------------------------------")
	for _, wt := range watches {
		prefix := wt.Prefix
		if prefix == "" {
			prefix = "(all)"
		}
		c := counts[wt.Handle]
		fmt.Fprintf(s.out, "  #%-3d %-20s %-20s delivered=%d errors=%d\n", wt.ID, wt.Scope, prefix, c[0], c[1])
	}
}

// cmdStatus handles the status command.
func (s *Shell) cmdStatus() {
	stats := s.router.Stats()

	fmt.Fprintf(s.out, "\nConnections: %d, Subscriptions: %d\n", stats.Connections, stats.Subscriptions)
	for _, sc := range stats.Scopes {
		connID := sc.ConnectionID
		if len(connID) > 8 {
			connID = connID[:8]
		}
		fmt.Fprintf(s.out, "  %-20s %-12s subs=%d connects=%d", sc.Scope, sc.State, sc.Subscriptions, sc.Connects)
		if sc.BackoffAttempts > 0 {
			fmt.Fprintf(s.out, " retries=%d", sc.BackoffAttempts)
		}
		if connID != "" {
			fmt.Fprintf(s.out, " conn=%s", connID)
		}
		fmt.Fprintln(s.out)
	}
}
