package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// ReadSSE parses a server-sent event stream from r and calls emit for every
// valid record. Records are separated by a blank line; the payload is the
// concatenation of their "data:" lines. Malformed records are logged and
// skipped. ReadSSE returns nil at end of stream or when emit returns false.
func ReadSSE(r io.Reader, emit func(Event) bool) error {
	br := bufio.NewReader(r)
	var dataLines []string
	flush := func() bool {
		if len(dataLines) == 0 {
			return true
		}
		data := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		ev, err := Decode([]byte(data))
		if err != nil {
			slog.Warn("skipping malformed event", "err", err, "len", len(data))
			return true
		}
		return emit(ev)
	}
	// Lines have no length limit: a single tool result can be megabytes.
	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := err != nil
		if eof && line == "" {
			break
		}
		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		switch {
		case line == "":
			if !flush() {
				return nil
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// "event:", "id:", "retry:" and ":" comments carry nothing we use.
		}
		if eof {
			break
		}
	}
	// A final record without its blank line is still delivered.
	flush()
	return nil
}

// EventOpener opens the raw event stream of a task.
type EventOpener interface {
	OpenEvents(ctx context.Context, taskID string) (io.ReadCloser, error)
}

// SSE is the pull transport: one HTTP request whose response body is an
// event stream.
type SSE struct {
	Opener EventOpener
}

// Stream implements Source.
func (s *SSE) Stream(ctx context.Context, taskID string, emit func(Event) bool) error {
	body, err := s.Opener.OpenEvents(ctx, taskID)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()
	err = ReadSSE(body, emit)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}
