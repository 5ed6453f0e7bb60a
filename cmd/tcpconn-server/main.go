package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/alxayo/tcpconn/internal/logger"
	"github.com/alxayo/tcpconn/internal/tcpconn/msg"
	"github.com/alxayo/tcpconn/internal/tcpconn/rawheader"
	"github.com/alxayo/tcpconn/internal/tcpconn/server"
	"github.com/alxayo/tcpconn/internal/tcpconn/server/hooks"
	"github.com/alxayo/tcpconn/internal/tcpconn/version"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version.String)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	if cfg.minVersion != "" {
		if err := version.CheckMinVersion(cfg.minVersion); err != nil {
			log.Error("version constraint not satisfied", "error", err)
			os.Exit(1)
		}
	}

	if cfg.logLevelFile != "" {
		watchLogLevelFile(cfg.logLevelFile, log)
	}

	hookMgr := buildHookManager(cfg, log)
	defer hookMgr.Close()

	if cfg.rawMode {
		runRawServer(cfg, hookMgr, log)
		return
	}
	runFramedServer(cfg, hookMgr, log)
}

func runFramedServer(cfg *cliConfig, hookMgr *hooks.HookManager, log *slog.Logger) {
	s := server.NewFramed(
		server.WithHookManager[msg.Framed](hookMgr),
		server.WithOnClientConnected[msg.Framed](func(id uint32) {
			log.Info("client connected", "conn_id", id)
		}),
		server.WithOnClientDisconnected[msg.Framed](func(id uint32) {
			log.Info("client disconnected", "conn_id", id)
		}),
		server.WithOnMessage[msg.Framed](func(id uint32, m msg.Framed) {
			log.Info("message received", "conn_id", id, "type", m.Type, "size", len(m.Body))
		}),
	)
	runAndWait(s, cfg.listenAddr, log)
}

func runRawServer(cfg *cliConfig, hookMgr *hooks.HookManager, log *slog.Logger) {
	var opts []rawheader.Option
	if cfg.rawHeaderSize > 0 {
		opts = append(opts,
			rawheader.WithHeaderSize(cfg.rawHeaderSize),
			rawheader.WithLengthOffset(cfg.rawLengthOffset),
			rawheader.WithLengthSize(cfg.rawLengthSize),
		)
	}
	desc := rawheader.New(opts...)

	s := server.NewRaw(desc,
		server.WithHookManager[msg.Raw](hookMgr),
		server.WithOnClientConnected[msg.Raw](func(id uint32) {
			log.Info("client connected", "conn_id", id)
		}),
		server.WithOnClientDisconnected[msg.Raw](func(id uint32) {
			log.Info("client disconnected", "conn_id", id)
		}),
		server.WithOnMessage[msg.Raw](func(id uint32, m msg.Raw) {
			log.Info("message received", "conn_id", id, "size", len(m.Body))
		}),
	)
	runAndWait(s, cfg.listenAddr, log)
}

// endpoint is the subset of *server.Server[T] runAndWait needs, satisfied by
// both Server[msg.Framed] and Server[msg.Raw].
type endpoint interface {
	Start(addr string) bool
	Stop() error
	Run()
}

func runAndWait(s endpoint, addr string, log *slog.Logger) {
	if !s.Start(addr) {
		log.Error("failed to start server", "addr", addr)
		os.Exit(1)
	}
	log.Info("server started", "addr", addr, "version", version.String)

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stopDone := make(chan struct{})
	go func() {
		if err := s.Stop(); err != nil {
			log.Error("server stop error", "error", err)
		}
		close(stopDone)
	}()

	select {
	case <-stopDone:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
		os.Exit(1)
	}
	<-done
}

func buildHookManager(cfg *cliConfig, log *slog.Logger) *hooks.HookManager {
	hookCfg := hooks.HookConfig{
		Timeout:     cfg.hookTimeout,
		Concurrency: cfg.hookConcurrency,
		StdioFormat: cfg.hookStdioFormat,
	}
	mgr := hooks.NewHookManager(hookCfg, nil)

	hookTimeout, err := time.ParseDuration(cfg.hookTimeout)
	if err != nil {
		hookTimeout = 30 * time.Second
	}
	for i, script := range cfg.hookScripts {
		parts := strings.SplitN(script, "=", 2)
		h := hooks.NewShellHook(fmt.Sprintf("shell_%d", i), parts[1], hookTimeout)
		if err := mgr.RegisterHook(hooks.EventType(parts[0]), h); err != nil {
			log.Error("failed to register shell hook", "error", err)
		}
	}
	for i, webhook := range cfg.hookWebhooks {
		parts := strings.SplitN(webhook, "=", 2)
		h := hooks.NewWebhookHook(fmt.Sprintf("webhook_%d", i), parts[1], hookTimeout)
		if err := mgr.RegisterHook(hooks.EventType(parts[0]), h); err != nil {
			log.Error("failed to register webhook hook", "error", err)
		}
	}
	return mgr
}

// watchLogLevelFile starts an fsnotify watcher on path; every write event
// reloads the file's contents (trimmed) as the new runtime log level.
func watchLogLevelFile(path string, log *slog.Logger) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error("failed to create log level watcher", "error", err)
		return
	}
	if err := w.Add(path); err != nil {
		log.Error("failed to watch log level file", "path", path, "error", err)
		_ = w.Close()
		return
	}
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				raw, err := os.ReadFile(path)
				if err != nil {
					continue
				}
				level := strings.TrimSpace(string(raw))
				if err := logger.SetLevel(level); err != nil {
					log.Error("invalid log level in watched file", "level", level, "error", err)
					continue
				}
				log.Info("log level reloaded", "level", level)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error("log level watcher error", "error", err)
			}
		}
	}()
}
