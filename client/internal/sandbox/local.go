package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Local is a workspace on the host file system rooted at Dir. Paths under
// the sandbox repository path are rebased onto Dir.
type Local struct {
	Dir      string
	RepoPath string
}

func (l *Local) resolve(p string) string {
	if l.RepoPath != "" && (p == l.RepoPath || strings.HasPrefix(p, l.RepoPath+"/")) {
		return filepath.Join(l.Dir, strings.TrimPrefix(p, l.RepoPath))
	}
	if !filepath.IsAbs(p) {
		return filepath.Join(l.Dir, p)
	}
	return p
}

// ReadFile implements FS.
func (l *Local) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(l.resolve(path))
}

// WriteFile implements FS.
func (l *Local) WriteFile(_ context.Context, path string, data []byte) error {
	p := l.resolve(path)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// List implements FS.
func (l *Local) List(_ context.Context, path string) ([]string, bool, error) {
	p := l.resolve(path)
	fi, err := os.Stat(p)
	if err != nil {
		return nil, false, err
	}
	if !fi.IsDir() {
		return nil, false, nil
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, true, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	slices.Sort(names)
	return names, true, nil
}

// NewLocal returns a toolbox working in dir on the host.
func NewLocal(dir, repoPath string, timeout time.Duration) *Toolbox {
	return &Toolbox{
		FS:      &Local{Dir: dir, RepoPath: repoPath},
		Shell:   NewShell(dir, "bash", "--noprofile", "--norc"),
		Timeout: timeout,
	}
}
