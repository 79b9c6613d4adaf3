// Package server is a self-contained task platform: it creates tasks, runs a
// scripted agent against a sandbox, streams task events over SSE and serves a
// scripted voice channel. It backs the CLI's -fake mode and the end to end
// tests.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maruel/ksid"
	"github.com/qualdev/fleet/client/internal/chat"
	"github.com/qualdev/fleet/client/internal/server/dto"
)

// ToolRunner executes tool calls in a task sandbox.
type ToolRunner interface {
	Execute(ctx context.Context, calls []chat.Block) []chat.Block
}

// Options configures a Server.
type Options struct {
	// Token, when set, is required as a bearer token on API requests.
	Token string
	// Tools executes the agent's and the voice client's tool calls.
	Tools ToolRunner
	// Delay paces scripted events so streaming is visible to a human.
	Delay time.Duration
	// RealtimeModel is reported with issued voice sessions.
	RealtimeModel string
}

// Server is the HTTP server of the task platform.
type Server struct {
	ctx   context.Context // server-lifetime context; outlives individual HTTP requests
	opts  Options
	wg    sync.WaitGroup // background agent flows
	mu    sync.Mutex
	tasks map[string]*taskEntry
	// secrets holds issued voice session secrets and their expiry.
	secrets map[string]time.Time
}

type taskEntry struct {
	queue *eventQueue

	mu   sync.Mutex
	task dto.Task
	msgs []chat.Message // persisted history
	busy bool           // an agent flow is running
}

func (e *taskEntry) persist(msgs ...chat.Message) {
	e.mu.Lock()
	e.msgs = append(e.msgs, msgs...)
	e.mu.Unlock()
}

func (e *taskEntry) setStatus(st dto.TaskStatus) {
	e.mu.Lock()
	e.task.Status = st
	e.mu.Unlock()
}

// New creates a server. Background flows stop when ctx is cancelled.
func New(ctx context.Context, opts Options) *Server {
	return &Server{
		ctx:     ctx,
		opts:    opts,
		tasks:   map[string]*taskEntry{},
		secrets: map[string]time.Time{},
	}
}

// Wait blocks until background agent flows have returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Handler returns the API handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	handlers := map[string]http.HandlerFunc{
		dto.RouteCreateTask:      handle(s.createTask),
		dto.RouteGetTask:         handleWithTask(s, s.getTaskInfo),
		dto.RouteTaskEvents:      s.handleTaskEvents,
		dto.RouteListMessages:    handleWithTask(s, s.listMessages),
		dto.RouteSendMessage:     handleWithTask(s, s.sendMessage),
		dto.RouteToolCalls:       handleWithTask(s, s.toolCalls),
		dto.RouteRealtimeSession: handle(s.realtimeSession),
	}
	for _, rt := range dto.Routes {
		mux.HandleFunc(rt.Pattern(), handlers[rt.Name])
	}
	mux.HandleFunc("GET /realtime", s.handleRealtime)

	// Middleware chain: logging → auth → decompress → compress → mux.
	// Logging sees compressed bytes (accurate wire-size reporting).
	var inner http.Handler = mux
	inner = compressMiddleware(inner)
	inner = decompressMiddleware(inner)
	inner = s.authMiddleware(inner)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		inner.ServeHTTP(rw, r)
		slog.InfoContext(r.Context(), "http",
			"m", r.Method,
			"p", r.URL.Path,
			"s", rw.status,
			"d", roundDuration(time.Since(start)),
			"b", rw.size,
		)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		// Use Background because the parent ctx is already cancelled.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx) //nolint:contextcheck // parent ctx is already cancelled at shutdown time
		shutdownCancel()
	}()
	slog.Info("listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
		return nil
	}
	return err
}

// authMiddleware enforces the bearer token on API routes. The voice channel
// authenticates with its session secret instead.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.opts.Token == "" {
		return next
	}
	want := "Bearer " + s.opts.Token
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime" && r.Header.Get("Authorization") != want {
			writeError(w, dto.Unauthorized("invalid or missing token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getTask(r *http.Request) (*taskEntry, error) {
	id := r.PathValue("task_id")
	s.mu.Lock()
	e, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return nil, dto.NotFound("task")
	}
	return e, nil
}

func (s *Server) createTask(_ context.Context, req *dto.CreateTaskReq) (*dto.CreateTaskResp, error) {
	id := ksid.NewID().String()
	e := &taskEntry{
		queue: newEventQueue(),
		task: dto.Task{
			ID:          id,
			Title:       titleFor(req.Description),
			Description: req.Description,
			ProjectID:   req.ProjectID,
			Status:      dto.TaskStatusRunning,
			CreatedAt:   time.Now().UTC(),
		},
		msgs: []chat.Message{{ID: chat.NewID(), Role: chat.RoleUser, Content: []chat.Block{chat.Text(req.Description)}}},
		busy: true,
	}
	s.mu.Lock()
	s.tasks[id] = e
	s.mu.Unlock()
	slog.Info("task created", "id", id, "title", e.task.Title)
	s.spawn(e, func(ctx context.Context) {
		if s.setupFlow(ctx, e) {
			s.agentTurn(ctx, e, req.Description)
		}
	})
	return &dto.CreateTaskResp{TaskID: id}, nil
}

func (s *Server) getTaskInfo(_ context.Context, e *taskEntry, _ *dto.TaskReq) (*dto.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.task
	return &t, nil
}

func (s *Server) listMessages(_ context.Context, e *taskEntry, _ *dto.TaskReq) (*[]chat.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := append([]chat.Message{}, e.msgs...)
	return &out, nil
}

func (s *Server) sendMessage(_ context.Context, e *taskEntry, req *dto.MessageCreateReq) (*dto.StatusResp, error) {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return nil, dto.Conflict("agent is busy")
	}
	e.busy = true
	e.task.Status = dto.TaskStatusRunning
	e.msgs = append(e.msgs, chat.Message{ID: chat.NewID(), Role: chat.RoleUser, Content: []chat.Block{chat.Text(req.Text)}})
	e.mu.Unlock()
	s.spawn(e, func(ctx context.Context) { s.agentTurn(ctx, e, req.Text) })
	return &dto.StatusResp{Status: "accepted"}, nil
}

func (s *Server) toolCalls(ctx context.Context, _ *taskEntry, req *dto.ToolCallsReq) (*dto.ToolCallsResp, error) {
	if s.opts.Tools == nil {
		return nil, dto.InternalError("no sandbox configured")
	}
	return &dto.ToolCallsResp{Results: s.opts.Tools.Execute(ctx, req.Calls)}, nil
}

// spawn runs fn in the background and marks the task idle when it returns.
func (s *Server) spawn(e *taskEntry, fn func(ctx context.Context)) {
	s.wg.Go(func() {
		defer func() {
			e.mu.Lock()
			e.busy = false
			e.task.Status = dto.TaskStatusIdle
			e.mu.Unlock()
		}()
		fn(s.ctx)
	})
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	e, err := s.getTask(r)
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, dto.InternalError("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ctx := r.Context()
	reader := e.queue.attach()
	for {
		ev, err := e.queue.next(ctx, reader)
		if err != nil {
			if errors.Is(err, errSuperseded) {
				slog.Info("event stream superseded", "task", r.PathValue("task_id"))
			}
			return
		}
		data, err := json.Marshal(&ev)
		if err != nil {
			slog.Warn("marshal SSE event", "err", err)
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(data)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

func titleFor(desc string) string {
	title, _, _ := strings.Cut(strings.TrimSpace(desc), "\n")
	if r := []rune(title); len(r) > 60 {
		title = string(r[:59]) + "…"
	}
	return title
}

type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush implements http.Flusher so SSE handlers can flush through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the voice channel upgrade through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}

// Unwrap returns the underlying ResponseWriter so http.NewResponseController
// can discover interfaces like http.Flusher.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// roundDuration rounds d to 3 significant digits with minimum 1us precision.
func roundDuration(d time.Duration) time.Duration {
	for t := 100 * time.Second; t >= 100*time.Microsecond; t /= 10 {
		if d >= t {
			return d.Round(t / 100)
		}
	}
	return d.Round(time.Microsecond)
}
