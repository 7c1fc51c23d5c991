package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handle is the narrow capability a caller gets over a supervised process:
// start it detached, observe it, stop it, read its log. Readiness logic is
// tested against fakes of this interface.
type Handle interface {
	Start() error
	IsRunning() bool
	Stop() error
	TailLog(n int) ([]string, error)
	LogPath() string
}

// ExecHandle supervises one long-lived child process, detached from the
// controlling session, with stdout and stderr redirected to a per-run log
// file under the state directory.
type ExecHandle struct {
	runID   string
	name    string
	cmdPath string
	args    []string
	env     []string
	dir     string
	logPath string
	pid     int
	logger  zerolog.Logger
}

// Option configures an ExecHandle before Start.
type Option func(*ExecHandle)

// WithEnv appends KEY=VALUE entries to the child's environment.
func WithEnv(env []string) Option {
	return func(h *ExecHandle) { h.env = append(h.env, env...) }
}

// WithDir sets the child's working directory.
func WithDir(dir string) Option {
	return func(h *ExecHandle) { h.dir = dir }
}

// New creates a handle for the given command. name labels the run in log
// file names and the manifest ("serve", "train").
func New(stateDir, name string, command []string, logger zerolog.Logger, opts ...Option) (*ExecHandle, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	runID := uuid.NewString()
	h := &ExecHandle{
		runID:   runID,
		name:    name,
		cmdPath: command[0],
		args:    command[1:],
		logPath: filepath.Join(stateDir, "logs", fmt.Sprintf("%s-%s.log", name, runID[:8])),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// RunID returns the handle's unique run identifier.
func (h *ExecHandle) RunID() string { return h.runID }

// PID returns the supervised process id, 0 before Start.
func (h *ExecHandle) PID() int { return h.pid }

// LogPath returns the path of the run's log file.
func (h *ExecHandle) LogPath() string { return h.logPath }

// Start launches the process in its own session with output redirected to
// the log file. The handle does not wait on the child; its lifetime is
// independent of the caller's.
func (h *ExecHandle) Start() error {
	if err := os.MkdirAll(filepath.Dir(h.logPath), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(h.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() {
		_ = logFile.Close()
	}()

	cmd := exec.Command(h.cmdPath, h.args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), h.env...)
	if h.dir != "" {
		cmd.Dir = h.dir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", h.name, err)
	}
	h.pid = cmd.Process.Pid

	h.logger.Info().
		Str("run", h.runID).
		Str("name", h.name).
		Int("pid", h.pid).
		Str("log", h.logPath).
		Msg("process started")

	// Detach: the child is session-leader now, no reaping from here.
	return cmd.Process.Release()
}

// IsRunning probes the process with signal 0.
func (h *ExecHandle) IsRunning() bool {
	return ProcessAlive(h.pid)
}

// Stop terminates the process group: SIGTERM first, SIGKILL after a grace
// period if it is still alive.
func (h *ExecHandle) Stop() error {
	if h.pid == 0 {
		return nil
	}

	// Negative pid targets the whole session started by Setsid.
	if err := syscall.Kill(-h.pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("failed to signal process group %d: %w", h.pid, err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !h.IsRunning() {
			h.logger.Info().Int("pid", h.pid).Msg("process stopped")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	h.logger.Warn().Int("pid", h.pid).Msg("process ignored SIGTERM, killing")
	if err := syscall.Kill(-h.pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("failed to kill process group %d: %w", h.pid, err)
	}
	return nil
}

// TailLog returns the last n lines of the run's log file.
func (h *ExecHandle) TailLog(n int) ([]string, error) {
	return TailFile(h.logPath, n)
}

// ProcessAlive reports whether a pid refers to a live process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// TailFile returns the last n lines of a file.
func TailFile(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
