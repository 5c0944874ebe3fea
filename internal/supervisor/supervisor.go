package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// TokenEnv carries the API token to the companion.
const TokenEnv = "SINKGUARD_TOKEN"

// DetachedEnv marks the second stage of the detached spawn.
const DetachedEnv = "SINKGUARD_AGENT_DETACHED"

// Defaults for the readiness wait after a spawn.
const (
	DefaultReadyAttempts = 10
	DefaultReadyDelay    = 50 * time.Millisecond
	DefaultSpawnTimeout  = 5 * time.Second
)

// ErrNoBinary is returned when the companion binary is not installed.
var ErrNoBinary = errors.New("supervisor: agent binary not found")

// Config configures a Supervisor.
type Config struct {
	Paths    Paths
	ProcRoot string
	Init     AgentInit
	Token    string

	ReadyAttempts uint
	ReadyDelay    time.Duration
	// Probe reports readiness once the socket appears. Defaults to a
	// unix-socket dial.
	Probe func(ctx context.Context, socket string) error

	// Alive and Signal default to the real process table.
	Alive  func(pid int) bool
	Signal func(pid int, sig syscall.Signal) error

	Logger *zap.Logger
}

// State is a snapshot of the companion's liveness.
type State struct {
	PID          int   `json:"pid"`
	Alive        bool  `json:"alive"`
	SocketExists bool  `json:"socket_exists"`
	Matches      []int `json:"matches,omitempty"`
}

// Running reports whether the companion is usable as-is.
func (s State) Running() bool {
	return s.Alive && s.SocketExists
}

// Supervisor is the handle on the companion process.
type Supervisor struct {
	cfg Config
	log *zap.Logger
}

// New builds a Supervisor.
func New(cfg Config) *Supervisor {
	if cfg.ProcRoot == "" {
		cfg.ProcRoot = "/proc"
	}
	if cfg.ReadyAttempts == 0 {
		cfg.ReadyAttempts = DefaultReadyAttempts
	}
	if cfg.ReadyDelay == 0 {
		cfg.ReadyDelay = DefaultReadyDelay
	}
	if cfg.Probe == nil {
		cfg.Probe = dialProbe
	}
	if cfg.Alive == nil {
		cfg.Alive = IsAlive
	}
	if cfg.Signal == nil {
		cfg.Signal = unix.Kill
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Init.Socket == "" {
		cfg.Init.Socket = cfg.Paths.Socket
	}
	if cfg.Init.PIDFile == "" {
		cfg.Init.PIDFile = cfg.Paths.PIDFile
	}
	return &Supervisor{cfg: cfg, log: cfg.Logger.With(zap.String("mod", "supervisor"))}
}

// Paths returns the companion paths.
func (s *Supervisor) Paths() Paths { return s.cfg.Paths }

// Status inspects the PID file, socket and process table.
func (s *Supervisor) Status() State {
	var st State
	pid, err := ReadPID(s.cfg.Paths.PIDFile)
	if err != nil {
		s.log.Warn("unreadable pid file", zap.Error(err))
	}
	st.PID = pid
	st.Alive = pid > 0 && s.cfg.Alive(pid)
	if _, err := os.Stat(s.cfg.Paths.Socket); err == nil {
		st.SocketExists = true
	}
	if matches, err := FindAgents(s.cfg.ProcRoot, s.cfg.Paths.Binary); err == nil {
		st.Matches = matches
	}
	// Without a PID file, a single matching process on a live socket is
	// adopted as the running companion.
	if st.PID == 0 && len(st.Matches) == 1 && st.SocketExists {
		st.PID = st.Matches[0]
		st.Alive = s.cfg.Alive(st.PID)
	}
	return st
}

// Ensure leaves exactly one live companion behind, spawning one if needed.
// Callers log the error and carry on; a failed start is retried at the
// next startup.
func (s *Supervisor) Ensure(ctx context.Context) (State, error) {
	st := s.Status()
	if st.Running() && len(st.Matches) <= 1 {
		s.log.Info("agent already running", zap.Int("pid", st.PID), zap.String("socket", s.cfg.Paths.Socket))
		return st, nil
	}

	if st.PID > 0 || len(st.Matches) > 0 || st.SocketExists {
		s.log.Warn("stale agent state, recovering",
			zap.Int("pid", st.PID), zap.Bool("alive", st.Alive),
			zap.Ints("matches", st.Matches), zap.Bool("socket", st.SocketExists))
	}
	s.cleanup(st)

	if _, err := os.Stat(s.cfg.Paths.Binary); err != nil {
		return s.Status(), fmt.Errorf("%w: %s", ErrNoBinary, s.cfg.Paths.Binary)
	}
	if err := os.MkdirAll(s.cfg.Paths.RunDir, 0o755); err != nil {
		return s.Status(), fmt.Errorf("supervisor: create run directory: %w", err)
	}
	if err := s.spawn(ctx); err != nil {
		return s.Status(), err
	}
	if err := s.waitReady(ctx); err != nil {
		return s.Status(), err
	}
	st = s.Status()
	s.log.Info("agent started", zap.Int("pid", st.PID), zap.String("socket", s.cfg.Paths.Socket))
	return st, nil
}

// Stop terminates every companion instance and removes its files.
func (s *Supervisor) Stop() State {
	st := s.Status()
	s.cleanup(st)
	return s.Status()
}

func (s *Supervisor) cleanup(st State) {
	killed := make(map[int]bool)
	kill := func(pid int) {
		if pid <= 0 || killed[pid] {
			return
		}
		killed[pid] = true
		if err := s.cfg.Signal(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			s.log.Warn("failed to terminate agent", zap.Int("pid", pid), zap.Error(err))
		}
	}
	if st.Alive {
		kill(st.PID)
	}
	for _, pid := range st.Matches {
		kill(pid)
	}
	for _, path := range []string{s.cfg.Paths.Socket, s.cfg.Paths.PIDFile} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("failed to remove stale file", zap.String("path", path), zap.Error(err))
		}
	}
}

// spawn runs the first stage and waits for it. The agent re-executes
// itself in a new session and the first stage exits at once, leaving the
// companion parented by init.
func (s *Supervisor) spawn(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultSpawnTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.cfg.Paths.Binary, s.cfg.Init.JSON())
	cmd.Env = []string{TokenEnv + "=" + s.cfg.Token}
	if path, ok := os.LookupEnv("PATH"); ok {
		cmd.Env = append(cmd.Env, "PATH="+path)
	}
	s.log.Info("starting agent", zap.String("binary", s.cfg.Paths.Binary), zap.String("init", s.cfg.Init.JSON()))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("supervisor: spawn %s: %w (%s)", s.cfg.Paths.Binary, err, bytesTrim(out))
	}
	return nil
}

func (s *Supervisor) waitReady(ctx context.Context) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(s.cfg.ReadyAttempts),
		retry.Delay(s.cfg.ReadyDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(time.Second),
	)
	err := r.Do(func() error {
		if _, err := os.Stat(s.cfg.Paths.Socket); err != nil {
			return fmt.Errorf("socket not present: %w", err)
		}
		return s.cfg.Probe(ctx, s.cfg.Paths.Socket)
	})
	if err != nil {
		return fmt.Errorf("supervisor: agent not ready on %s: %w", s.cfg.Paths.Socket, err)
	}
	return nil
}

func dialProbe(ctx context.Context, socket string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return err
	}
	return conn.Close()
}

func bytesTrim(b []byte) string {
	const limit = 256
	if len(b) > limit {
		b = b[:limit]
	}
	return string(b)
}

// Detach performs the second stage of the spawn from inside the agent
// binary. It reports true when the caller is the detached companion and
// should go on to serve; otherwise it has started that companion in a new
// session and the caller should exit.
func Detach(args []string, env []string) (bool, error) {
	if os.Getenv(DetachedEnv) == "1" {
		return true, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return false, fmt.Errorf("supervisor: resolve executable: %w", err)
	}
	cmd := exec.Command(exe, args[1:]...)
	cmd.Args[0] = args[0]
	cmd.Env = append(append([]string{}, env...), DetachedEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("supervisor: start detached agent: %w", err)
	}
	return false, cmd.Process.Release()
}
