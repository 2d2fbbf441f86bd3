// Command spark-events subscribes to and publishes cloud events from a terminal.
//
// Usage:
//
//	spark-events [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-api-url string       Cloud API base URL (default "https://api.particle.io")
//	-token string         Access token (overrides the saved session)
//	-state-dir string     Directory for the session, watches and history
//	-scope string         Subscribe on start: public, mine, or device:<id>
//	-prefix string        Event name prefix for -scope
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Write a protocol capture (.elog) to this file
//	-interactive          Enable interactive command mode
//
// Examples:
//
//	# Print every event from owned devices whose name starts with "temp/"
//	spark-events -token $TOKEN -scope mine -prefix temp/
//
//	# Interactive mode; subscriptions are restored on the next start
//	spark-events -state-dir ~/.spark -interactive
//
//	# Capture the protocol for later inspection with spark-log
//	spark-events -token $TOKEN -scope public -protocol-log events.elog
//
// Interactive Commands:
//
//	sub <scope> [prefix]    - Subscribe
//	unsub <watch-id>        - Remove a subscription
//	pub [-private] [-ttl N] <name> [data...] - Publish an event
//	list                    - List subscriptions
//	status                  - Show connection status
//	quit                    - Exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/phuongtg/spark-cloud-go/cmd/spark-events/interactive"
	"github.com/phuongtg/spark-cloud-go/pkg/cloud"
	"github.com/phuongtg/spark-cloud-go/pkg/connection"
	"github.com/phuongtg/spark-cloud-go/pkg/log"
	"github.com/phuongtg/spark-cloud-go/pkg/persistence"
	"github.com/phuongtg/spark-cloud-go/pkg/session"
	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

const usage = `spark-events - subscribe to and publish cloud events

Usage: spark-events [flags]

Flags:`

// State files kept under -state-dir.
const (
	sessionFile = "session.json"
	watchFile   = "watches.json"
	historyFile = "history"
)

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg Config) error {
	level, _ := parseLogLevel(cfg.LogLevel)
	output := &logOutput{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: level}))

	plogger, closeProtocolLog, err := setupProtocolLog(cfg, logger)
	if err != nil {
		return err
	}
	defer closeProtocolLog()

	creds, err := newCredentials(cfg, logger, plogger)
	if err != nil {
		return err
	}

	routerCfg := cloud.DefaultConfig()
	routerCfg.BaseURL = cfg.APIURL
	routerCfg.Credentials = creds
	routerCfg.Backoff = cfg.Backoff.connectionConfig()
	routerCfg.IdleTimeout = cfg.IdleTimeout
	routerCfg.Logger = logger
	routerCfg.ProtocolLogger = plogger
	routerCfg.OnConnectionState = func(scope wire.Scope, oldState, newState connection.State) {
		logger.Info("connection state", "scope", scope.String(), "from", oldState.String(), "to", newState.String())
	}

	router, err := cloud.New(routerCfg)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	defer func() {
		if err := router.Close(); err != nil {
			logger.Warn("error closing router", "error", err)
		}
	}()

	var watchStore *persistence.WatchStore
	if cfg.StateDir != "" {
		watchStore = persistence.NewWatchStore(filepath.Join(cfg.StateDir, watchFile))
	}
	watcher := interactive.NewWatcher(router, watchStore, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Interactive {
		shellCfg := interactive.Config{}
		if cfg.StateDir != "" {
			shellCfg.HistoryFile = filepath.Join(cfg.StateDir, historyFile)
		}
		shell, err := interactive.New(watcher, router, shellCfg)
		if err != nil {
			return err
		}
		// Route log output through readline to avoid interfering with input
		output.Set(shell.Stdout())
		go shell.Run(ctx, cancel)
	}

	n, err := watcher.Restore()
	if err != nil {
		logger.Warn("failed to restore watches", "error", err)
	} else if n > 0 {
		logger.Info("restored watches", "count", n)
	}

	if cfg.Scope != "" {
		scope, _ := wire.ParseScope(cfg.Scope)
		if _, err := watcher.Watch(scope, cfg.Prefix); err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	if !cfg.Interactive && len(watcher.Watches()) == 0 {
		return fmt.Errorf("nothing to watch")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
		// Cancelled by the interactive quit command
	}
	return nil
}

// newCredentials returns a static provider for -token, otherwise a
// refreshing session loaded from the state directory.
func newCredentials(cfg Config, logger *slog.Logger, plogger log.Logger) (session.Provider, error) {
	if cfg.Token != "" {
		return session.NewStatic(cfg.Token), nil
	}

	store := persistence.NewSessionStore(filepath.Join(cfg.StateDir, sessionFile))
	mgr, err := session.LoadManager(session.ManagerConfig{
		Refresh: session.OAuthRefresher(session.OAuthConfig{
			BaseURL:      cfg.APIURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		}),
		Store:          store,
		Logger:         logger,
		ProtocolLogger: plogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if current := mgr.Current(); current.AccessToken == "" && current.RefreshToken == "" {
		return nil, fmt.Errorf("no saved session in %s", store.Path())
	}
	return mgr, nil
}

// setupProtocolLog returns the protocol logger for cfg and a function that
// closes it. Protocol events are echoed to the debug log at debug level.
func setupProtocolLog(cfg Config, logger *slog.Logger) (log.Logger, func(), error) {
	var loggers []log.Logger
	closeFn := func() {}

	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		closeFn = func() {
			_ = fl.Close()
			logger.Info("protocol capture closed", "path", fl.Path(), "records", fl.Written(), "failed", fl.Failed())
		}
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}

	return log.Combine(loggers...), closeFn, nil
}

// logOutput is a writer whose target can be swapped while in use.
type logOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *logOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(p)
}

// Set replaces the target writer.
func (o *logOutput) Set(w io.Writer) {
	o.mu.Lock()
	o.w = w
	o.mu.Unlock()
}
