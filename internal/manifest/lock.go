package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked indicates another orchestrator run owns the manifest directory.
var ErrLocked = errors.New("another run holds the manifest lock")

// lockFileName lives next to the manifest so two orchestrator instances
// pointed at the same manifest fail fast instead of racing.
const lockFileName = "run.lock"

// Lock is an exclusive per-directory run lock.
type Lock struct {
	path string
}

// AcquireLock takes the run lock for the directory containing the manifest.
// The lock file records "<pid> <runID>". A stale lock whose pid no longer
// exists is broken and re-acquired.
func AcquireLock(dir, runID string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	path := filepath.Join(dir, lockFileName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), runID)
			if cerr := f.Close(); cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("writing lock file: %w", cerr)
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}

		holder, herr := lockHolder(path)
		if herr == nil && processAlive(holder) {
			return nil, fmt.Errorf("%w: held by pid %d", ErrLocked, holder)
		}
		// Holder is gone (or the file is unreadable garbage): break the
		// stale lock and retry once.
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("breaking stale lock: %w", rerr)
		}
	}

	return nil, ErrLocked
}

// Release removes the lock file. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}

// lockHolder parses the pid out of an existing lock file.
func lockHolder(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty lock file")
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("parsing lock pid: %w", err)
	}
	return pid, nil
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 performs the existence/permission check without delivering
	// anything. EPERM still means the process exists.
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
