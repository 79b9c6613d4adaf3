package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Docker is a workspace inside a running container, reached with
// `docker exec`.
type Docker struct {
	Container string
}

func (d *Docker) exec(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	argv := append([]string{"exec", "-i", d.Container}, args...)
	cmd := exec.CommandContext(ctx, "docker", argv...) //nolint:gosec // container name comes from configuration.
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
	}
	return stdout.Bytes(), err
}

// ReadFile implements FS.
func (d *Docker) ReadFile(ctx context.Context, path string) ([]byte, error) {
	out, err := d.exec(ctx, nil, "cat", "--", path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// WriteFile implements FS.
func (d *Docker) WriteFile(ctx context.Context, path string, data []byte) error {
	if _, err := d.exec(ctx, data, "sh", "-c", `mkdir -p "$(dirname "$1")" && cat > "$1"`, "sh", path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// List implements FS. The script exits 3 for regular files.
func (d *Docker) List(ctx context.Context, path string) ([]string, bool, error) {
	out, err := d.exec(ctx, nil, "sh", "-c", `[ -e "$1" ] || { echo "no such file or directory" >&2; exit 2; }; [ -d "$1" ] || exit 3; ls -1A "$1"`, "sh", path)
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && ee.ExitCode() == 3 {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("list %s: %w", path, err)
	}
	var names []string
	for _, l := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if l != "" {
			names = append(names, l)
		}
	}
	return names, true, nil
}

// NewDocker returns a toolbox working inside container, with the shell
// started in workdir.
func NewDocker(container, workdir string, timeout time.Duration) *Toolbox {
	return &Toolbox{
		FS:      &Docker{Container: container},
		Shell:   NewShell("", "docker", "exec", "-i", "-w", workdir, container, "bash", "--noprofile", "--norc"),
		Timeout: timeout,
	}
}
