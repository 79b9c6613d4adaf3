package sandbox

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// errTimeout is returned by Shell.Run when the command did not finish in
// time.
var errTimeout = errors.New("command timed out")

// Shell is a long lived bash process. Commands share its state (working
// directory, environment) until it is restarted.
type Shell struct {
	argv []string
	dir  string

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string // merged stdout and stderr; closed when the process exits
}

// NewShell returns a shell started lazily with argv in dir.
func NewShell(dir string, argv ...string) *Shell {
	return &Shell{argv: argv, dir: dir}
}

func (s *Shell) start() error {
	cmd := exec.Command(s.argv[0], s.argv[1:]...) //nolint:gosec // argv is fixed at construction.
	cmd.Dir = s.dir
	// Background jobs may keep the output pipe open after bash exits.
	cmd.WaitDelay = time.Second
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.argv[0], err)
	}
	lines := make(chan string, 256)
	go func() {
		defer close(lines)
		r := bufio.NewReader(pr)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				lines <- strings.TrimSuffix(line, "\n")
			}
			if err != nil {
				return
			}
		}
	}()
	go func() {
		err := cmd.Wait()
		_ = pw.CloseWithError(io.EOF)
		slog.Debug("shell exited", "err", err)
	}()
	s.cmd, s.stdin, s.lines = cmd, stdin, lines
	return nil
}

// Restart kills the current process. The next Run starts a fresh one.
func (s *Shell) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kill()
}

// Close kills the process.
func (s *Shell) Close() error {
	s.Restart()
	return nil
}

func (s *Shell) kill() {
	if s.cmd == nil {
		return
	}
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	// Drain so the reader goroutine exits.
	go func(lines chan string) {
		for range lines {
		}
	}(s.lines)
	s.cmd, s.stdin, s.lines = nil, nil, nil
}

// Run executes command and returns its combined output with surrounding
// whitespace trimmed. On timeout the process is killed and errTimeout is
// returned.
func (s *Shell) Run(ctx context.Context, command string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		if err := s.start(); err != nil {
			return "", err
		}
	}
	marker := "__CMD_DONE_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := fmt.Fprintf(s.stdin, "%s\necho '%s'\n", command, marker); err != nil {
		s.kill()
		return "", fmt.Errorf("shell is gone: %w", err)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var out []string
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				s.kill()
				return strings.TrimSpace(strings.Join(out, "\n")), errors.New("shell exited")
			}
			if i := strings.Index(line, marker); i >= 0 {
				if i > 0 {
					out = append(out, line[:i])
				}
				return strings.TrimSpace(strings.Join(out, "\n")), nil
			}
			out = append(out, line)
		case <-timer.C:
			s.kill()
			return "", errTimeout
		case <-ctx.Done():
			s.kill()
			return "", ctx.Err()
		}
	}
}
