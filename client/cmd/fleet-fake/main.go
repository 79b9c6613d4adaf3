// Command fleet-fake serves the fake task platform: the task API, its event
// streams and a scripted voice channel, with tool calls running in a local
// directory or a docker container.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/qualdev/fleet/client/internal/config"
	"github.com/qualdev/fleet/client/internal/logging"
	"github.com/qualdev/fleet/client/internal/sandbox"
	"github.com/qualdev/fleet/client/internal/server"
)

func mainImpl() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfgPath := flag.String("config", "", "settings file (default $XDG_CONFIG_HOME/fleet/config.toml)")
	addr := flag.String("http", ":8090", "listen address")
	dir := flag.String("dir", "", "sandbox directory (default: settings file, else a temporary directory)")
	container := flag.String("container", "", "run tool calls in this docker container instead")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	delay := flag.Duration("delay", 50*time.Millisecond, "pause between scripted events")
	flag.Parse()
	if args := flag.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	level := cfg.LogLevel()
	if *logLevel != "" {
		level = *logLevel
	}
	if err := logging.Init(level); err != nil {
		return err
	}
	if *dir != "" {
		cfg.Sandbox.Dir = *dir
	}
	if *container != "" {
		cfg.Sandbox.Container = *container
	}
	timeout, err := cfg.ToolTimeout()
	if err != nil {
		return err
	}
	tools, closeTools, err := sandbox.Open(cfg.Sandbox.Dir, cfg.Sandbox.Container, timeout)
	if err != nil {
		return err
	}
	defer func() { _ = closeTools() }()

	// Exit when the executable is rebuilt so a supervisor restarts it.
	if err := watchExecutable(ctx, cancel); err != nil {
		slog.Warn("failed to watch executable", "err", err)
	}
	srv := server.New(ctx, server.Options{
		Token:         cfg.Server.Token,
		Tools:         tools,
		Delay:         *delay,
		RealtimeModel: cfg.RealtimeModel(),
	})
	err = srv.ListenAndServe(ctx, *addr)
	srv.Wait()
	return err
}

// watchExecutable calls stop when the current executable is modified.
func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					slog.Info("executable modified, shutting down")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("error watching executable", "err", err)
			}
		}
	}()
	return nil
}

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "fleet-fake: %v\n", err)
		os.Exit(1)
	}
}
