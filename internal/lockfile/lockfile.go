// Package lockfile guards a LeadPipe state directory against a second running instance.
//
// The guard is an flock on a file inside the state directory. The kernel drops the lock
// when the process exits, so a crashed instance never blocks the next start.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "leadpipe.lock"

// Info is the owner record written into the lock file.
type Info struct {
	PID       int
	Transport string
	StartedAt time.Time
}

func (i Info) encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", i.PID)
	if i.Transport != "" {
		fmt.Fprintf(&b, "transport=%s\n", i.Transport)
	}
	fmt.Fprintf(&b, "started=%s\n", i.StartedAt.UTC().Format(time.RFC3339))
	return b.String()
}

// parseInfo reads key=value lines. Unknown keys and malformed values are ignored.
func parseInfo(content string) Info {
	var info Info
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				info.PID = pid
			}
		case "transport":
			info.Transport = value
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.StartedAt = t
			}
		}
	}
	return info
}

// Lock represents an active directory lock
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the exclusive lock on stateDir, creating the directory if needed.
// A held lock yields a *LockError describing the current owner.
func AcquireLock(stateDir, transport string) (*Lock, error) {
	path := filepath.Join(stateDir, LockFileName)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the owner record of a running instance before flock fails.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner := describeOwner(path)
		slog.Error("State directory already locked by another LeadPipe instance", "lock_path", path, "owner", owner)
		return nil, &LockError{LockPath: path, Owner: owner, Cause: err}
	}

	info := Info{PID: os.Getpid(), Transport: transport, StartedAt: time.Now()}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", path, err)
	}

	slog.Info("State directory lock acquired", "lock_path", path, "pid", info.PID, "transport", transport)
	return &Lock{file: file, path: path}, nil
}

func writeInfo(file *os.File, info Info) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(info.encode()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Failed to sync lock file", "error", err, "lock_path", file.Name())
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Failed to release flock", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Failed to close lock file", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove lock file", "error", err, "lock_path", l.path)
	}
	l.file = nil
	slog.Info("State directory lock released", "lock_path", l.path)
	return nil
}

// LockError reports that another instance holds the state directory.
type LockError struct {
	LockPath string
	Owner    string
	Cause    error
}

func (e *LockError) Error() string {
	msg := "another LeadPipe instance is already running with this state directory (lock file " + e.LockPath + ")"
	if e.Owner != "" {
		msg += ": " + e.Owner
	}
	return msg + "; remove the lock file only if that process is gone"
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describeOwner summarizes the lock file of the running instance for error messages.
func describeOwner(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "owner unknown"
	}
	info := parseInfo(string(data))
	if info.PID <= 0 {
		return "owner unknown"
	}
	state := "running"
	if !isProcessRunning(info.PID) {
		state = "not running, stale lock"
	}
	desc := fmt.Sprintf("PID %d (%s)", info.PID, state)
	if info.Transport != "" {
		desc += ", transport " + info.Transport
	}
	if !info.StartedAt.IsZero() {
		desc += ", started " + info.StartedAt.Format(time.RFC3339)
	}
	return desc
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
