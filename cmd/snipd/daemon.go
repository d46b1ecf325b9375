package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"snipd/internal/config"
	"snipd/internal/engine"
	"snipd/internal/ipc"
	"snipd/internal/keystroke"
	"snipd/internal/library"
	"snipd/internal/logging"
	"snipd/internal/notify"
	"snipd/internal/store"
)

// runDaemon wires all subsystems and blocks until a signal or an IPC
// shutdown request.
func runDaemon(configPath string, startPaused bool) error {
	if configPath == "" {
		configPath = config.ConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	logging.SetDefault(logger)
	slogger := logger.Logger

	crash := logging.NewCrashHandler(nil)
	crash.SetVersion(Version)
	defer func() {
		if r := recover(); r != nil {
			crash.HandlePanic(r, map[string]interface{}{"component": "daemon"})
		}
	}()

	releasePid, err := acquirePidFile(cfg.Daemon.PidFile)
	if err != nil {
		return err
	}
	defer releasePid()

	st, err := store.Open(cfg.Storage.Path, cfg.Storage.KeyPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	lib := library.New(st, cfg.Library.PacksDir, slogger)

	var notifier notify.Notifier
	if cfg.Notifications.Enabled {
		notifier = notify.New(slogger,
			time.Duration(cfg.Notifications.ThrottleSec)*time.Second)
	} else {
		notifier = &notify.LogNotifier{Logger: slogger}
	}

	eng := engine.New(engine.Config{
		WordBoundary:        cfg.Matcher.WordBoundary,
		EnableScript:        cfg.Placeholders.EnableScript,
		ScriptTimeout:       cfg.Placeholders.ScriptTimeout(),
		SuppressionLifetime: cfg.Engine.SuppressionLifetime(),
		SettleDelay:         cfg.Engine.SettleDelay(),
	}, engine.Options{
		Usage: func(command string, at time.Time) {
			if err := st.RecordExpansion(command, at); err != nil {
				slogger.Warn("record expansion", "error", err)
			}
		},
		Notifier: notifier,
		Logger:   slogger,
	})

	snips, err := lib.Snapshot()
	if err != nil {
		return fmt.Errorf("load library: %w", err)
	}
	eng.LoadSnippets(snips)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		if !errors.Is(err, keystroke.ErrPermissionDenied) {
			return fmt.Errorf("start engine: %w", err)
		}
		// Stay up so snipctl status can report the denied condition.
		// The user grants permission outside the app and restarts.
		slogger.Error("keyboard access denied; expansion idle until permission is granted")
	}
	if startPaused || cfg.Engine.StartPaused {
		eng.Pause()
	}

	if cfg.Library.WatchPacks {
		if err := lib.Start(); err != nil {
			slogger.Warn("watch packs", "error", err)
		} else {
			defer lib.Stop()
			go func() {
				for snips := range lib.Updates() {
					eng.LoadSnippets(snips)
				}
			}()
		}
	}

	shutdown := make(chan struct{})
	var shutdownOnce sync.Once
	requestShutdown := func() { shutdownOnce.Do(func() { close(shutdown) }) }

	var srv *ipc.Server
	if cfg.IPC.Enabled {
		handler := ipc.NewDaemonHandler(ipc.HandlerConfig{
			Engine:   eng,
			Snippets: lib,
			Usage:    st,
			Version:  Version,
			Shutdown: requestShutdown,
			Logger:   slogger,
		})
		srv, err = ipc.NewServer(ipc.ServerConfig{
			SocketPath:     cfg.IPC.SocketPath,
			Version:        Version,
			ReadTimeout:    time.Duration(cfg.IPC.TimeoutSec) * time.Second,
			WriteTimeout:   time.Duration(cfg.IPC.TimeoutSec) * time.Second,
			MaxConnections: cfg.IPC.MaxConnections,
			Logger:         slogger,
		}, handler)
		if err != nil {
			return fmt.Errorf("create ipc server: %w", err)
		}
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start ipc server: %w", err)
		}
	}

	slogger.Info("snipd running", "version", Version, "snippets", len(snips), "config", configPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		slogger.Info("signal received", "signal", sig.String())
	case <-shutdown:
		slogger.Info("shutdown requested over ipc")
	}

	// IPC first so no new requests arrive, then the engine, which
	// unhooks the monitor deterministically. The store closes last via
	// the deferred Close.
	if srv != nil {
		srv.Stop()
	}
	if err := eng.Stop(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
		slogger.Warn("stop engine", "error", err)
	}
	return nil
}

func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	if strings.EqualFold(cfg.Logging.Format, "json") {
		lc.Format = logging.FormatJSON
	}
	if cfg.Logging.Output != "" {
		lc.Output = cfg.Logging.Output
	}
	if cfg.Logging.FilePath != "" {
		lc.FilePath = cfg.Logging.FilePath
	}
	if cfg.Logging.MaxSizeMB > 0 {
		lc.MaxSize = int64(cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.MaxBackups > 0 {
		lc.MaxBackups = cfg.Logging.MaxBackups
	}
	return logging.New(lc)
}

// acquirePidFile takes the daemon lock. A pid file whose process is
// gone is treated as stale and replaced.
func acquirePidFile(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, fs.ErrExist) {
		if pid, ok := readPidFile(path); ok && processAlive(pid) {
			return nil, fmt.Errorf("snipd already running (pid %d)", pid)
		}
		os.Remove(path)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	}
	if err != nil {
		return nil, fmt.Errorf("create pid file: %w", err)
	}

	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	return func() { os.Remove(path) }, nil
}

func readPidFile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix FindProcess always succeeds; signal 0 probes existence.
	return process.Signal(syscall.Signal(0)) == nil
}
