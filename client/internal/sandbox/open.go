package sandbox

import (
	"errors"
	"os"
	"time"
)

// Open returns the toolbox selected by the settings: a docker container when
// container is set, else the host directory dir, else a fresh temporary
// directory removed by close.
func Open(dir, container string, timeout time.Duration) (tb *Toolbox, closeFn func() error, err error) {
	if container != "" {
		tb = NewDocker(container, RepoPath, timeout)
		return tb, tb.Close, nil
	}
	tmp := ""
	if dir == "" {
		if tmp, err = os.MkdirTemp("", "fleet-sandbox-*"); err != nil {
			return nil, nil, err
		}
		dir = tmp
	}
	tb = NewLocal(dir, RepoPath, timeout)
	return tb, func() error {
		err := tb.Close()
		if tmp != "" {
			err = errors.Join(err, os.RemoveAll(tmp))
		}
		return err
	}, nil
}
