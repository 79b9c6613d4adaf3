// Command fleet follows an agent task from the terminal: it loads the
// conversation, sends a message and prints the turn as it streams, over the
// event stream or the voice channel.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/qualdev/fleet/client/internal/apiclient"
	"github.com/qualdev/fleet/client/internal/chat"
	"github.com/qualdev/fleet/client/internal/config"
	"github.com/qualdev/fleet/client/internal/logging"
	"github.com/qualdev/fleet/client/internal/sandbox"
	"github.com/qualdev/fleet/client/internal/server"
	"github.com/qualdev/fleet/client/internal/server/dto"
	"github.com/qualdev/fleet/client/internal/stream"
	"github.com/qualdev/fleet/client/internal/termui"
	"golang.org/x/sync/errgroup"
)

func mainImpl() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfgPath := flag.String("config", "", "settings file (default $XDG_CONFIG_HOME/fleet/config.toml)")
	serverURL := flag.String("server", "", "task platform URL (overrides the settings file)")
	taskID := flag.String("task", "", "task to follow; a new task is created from -send when empty")
	send := flag.String("send", "", "message to send")
	voice := flag.Bool("voice", false, "use the voice channel; stdin lines are spoken as user turns")
	fake := flag.Bool("fake", false, "run an in-process fake platform")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	render := flag.String("render", "auto", "transcript style: auto, dark, light, notty or none")
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
	if *serverURL != "" {
		cfg.Server.URL = *serverURL
		cfg.Realtime.URL = ""
	}
	if *fake {
		addr, err := startFake(ctx, &cfg)
		if err != nil {
			return err
		}
		cfg.Server.URL, cfg.Realtime.URL = "http://"+addr, ""
	}

	client := apiclient.New(cfg.ServerURL(), cfg.Server.Token)
	if *taskID == "" {
		if *send == "" {
			return errors.New("-task or -send is required")
		}
		id, err := client.CreateTask(ctx, &dto.CreateTaskReq{Description: *send})
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		slog.Info("task created", "id", id)
		return follow(ctx, &cfg, client, id, "", *voice, *render, true)
	}
	return follow(ctx, &cfg, client, *taskID, *send, *voice, *render, false)
}

// follow loads the task history into a store, sends msg when set, streams
// the turn while printing it and ends with the rendered transcript.
func follow(ctx context.Context, cfg *config.Config, client *apiclient.Client, taskID, msg string, voice bool, style string, created bool) error {
	var reg chat.Registry
	store := reg.Get(taskID)
	defer reg.Drop(taskID)

	task, err := load(ctx, client, store, taskID)
	if err != nil {
		return err
	}

	var styles termui.Styles
	if isatty.IsTerminal(os.Stdout.Fd()) {
		styles = termui.DefaultStyles()
	} else {
		styles = termui.PlainStyles()
	}
	live := termui.NewLive(os.Stdout, styles)

	var rt *stream.Realtime
	var src stream.Source = &stream.SSE{Opener: client}
	if voice {
		rt = &stream.Realtime{
			Dialer:    &stream.WebsocketDialer{URL: cfg.RealtimeURL(), Secret: client.RealtimeSecret},
			Tools:     client,
			Session:   stream.DefaultSession(cfg.Voice()),
			OnSpeaker: func(s stream.Speaker) { _ = live.Speaker(s) },
		}
		src = rt
	}
	ctl := stream.NewController(store, src)

	printCtx, stopPrint := context.WithCancel(ctx)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		snap, ch := store.Subscribe(printCtx)
		for {
			if err := live.Update(chat.Project(snap.Messages)); err != nil {
				slog.Warn("print", "err", err)
			}
			var ok bool
			if snap, ok = <-ch; !ok {
				return
			}
		}
	}()

	streaming := created || msg != "" || voice || task.Status == dto.TaskStatusRunning
	if streaming {
		if msg != "" && !voice {
			store.AddUserText(msg)
			if err := client.SendMessage(ctx, taskID, msg); err != nil {
				stopPrint()
				<-printed
				return fmt.Errorf("send: %w", err)
			}
		}
		done := ctl.Start(ctx, taskID)
		if voice {
			err = converse(ctx, rt, ctl, msg)
		} else {
			var st stream.Status
			if st, err = ctl.Wait(ctx); err == nil && st.LastError != "" {
				err = errors.New(st.LastError)
			}
		}
		ctl.Cancel()
		<-done
	}
	stopPrint()
	<-printed
	if st := ctl.Status(); st.State != stream.StateIdle {
		_ = live.Status(st)
	}

	r, rerr := termui.NewRenderer(style, 0)
	if rerr != nil {
		return rerr
	}
	fmt.Print(r.Render(chat.Project(store.Messages())))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// load fetches the task and its persisted messages concurrently.
func load(ctx context.Context, client *apiclient.Client, store *chat.Store, taskID string) (*dto.Task, error) {
	var task *dto.Task
	var msgs []chat.Message
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		task, err = client.Task(ctx, taskID)
		return err
	})
	eg.Go(func() error {
		var err error
		msgs, err = client.Messages(ctx, taskID)
		return err
	})
	if err := eg.Wait(); err != nil {
		if apiclient.IsNotFound(err) {
			return nil, fmt.Errorf("task %s does not exist", taskID)
		}
		return nil, err
	}
	store.Replace(msgs)
	store.SetUserPrompt(task.Description)
	return task, nil
}

// converse speaks msg and then every stdin line until EOF or interrupt.
func converse(ctx context.Context, rt *stream.Realtime, ctl *stream.Controller, msg string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	pending := msg
	for {
		var retry <-chan time.Time
		if pending != "" {
			// Say fails until the channel is open.
			if err := rt.Say(pending); err != nil {
				retry = time.After(50 * time.Millisecond)
			} else {
				pending = ""
			}
		}
		changed := ctl.Changed()
		if st := ctl.Status(); !st.IsStreaming() {
			if st.LastError != "" {
				return errors.New(st.LastError)
			}
			return nil
		}
		select {
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			if l = strings.TrimSpace(l); l != "" {
				pending = l
			}
		case <-changed:
		case <-retry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// startFake serves the fake platform on a loopback port for the lifetime of
// ctx and returns its address.
func startFake(ctx context.Context, cfg *config.Config) (string, error) {
	timeout, err := cfg.ToolTimeout()
	if err != nil {
		return "", err
	}
	tools, closeTools, err := sandbox.Open(cfg.Sandbox.Dir, cfg.Sandbox.Container, timeout)
	if err != nil {
		return "", err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = closeTools()
		return "", err
	}
	srv := server.New(ctx, server.Options{Token: cfg.Server.Token, Tools: tools, RealtimeModel: cfg.RealtimeModel()})
	go func() {
		defer func() { _ = closeTools() }()
		if err := srv.Serve(ctx, ln); err != nil {
			slog.Error("fake server", "err", err)
		}
		srv.Wait()
	}()
	return ln.Addr().String(), nil
}

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "fleet: %v\n", err)
		os.Exit(1)
	}
}
