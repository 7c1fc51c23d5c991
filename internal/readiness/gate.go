package readiness

import (
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// State is the externally observable readiness of a spawned service.
type State int

const (
	Pending State = iota
	Ready
	TimedOut
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case TimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PollInterval is the fixed delay between connect attempts.
const PollInterval = time.Second

// Gate watches a TCP endpoint until it accepts connections or a deadline
// passes. It is a pure observer: it never manages the spawned process. The
// dial and clock functions are injectable so timeout behavior is
// deterministic in tests.
type Gate struct {
	Dial   func(network, addr string, timeout time.Duration) (net.Conn, error)
	Now    func() time.Time
	Sleep  func(time.Duration)
	Logger zerolog.Logger
}

// NewGate returns a gate using the real network and clock.
func NewGate(logger zerolog.Logger) *Gate {
	return &Gate{
		Dial:   net.DialTimeout,
		Now:    time.Now,
		Sleep:  time.Sleep,
		Logger: logger,
	}
}

// Await polls (host, port) once per PollInterval and returns Ready on the
// first successful connect, or TimedOut once the timeout elapses. It runs a
// single wait cycle and never blocks beyond timeout plus one poll interval.
func (g *Gate) Await(host string, port int, timeout time.Duration) State {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	deadline := g.Now().Add(timeout)

	for {
		conn, err := g.Dial("tcp", addr, PollInterval)
		if err == nil {
			_ = conn.Close()
			g.Logger.Info().Str("addr", addr).Msg("service accepting connections")
			return Ready
		}

		if !g.Now().Before(deadline) {
			g.Logger.Warn().Str("addr", addr).Dur("timeout", timeout).Msg("service never became reachable")
			return TimedOut
		}

		g.Sleep(PollInterval)
	}
}

// PortBusy reports whether something is already listening on (host, port).
// Used as a pre-launch check so a stale server is reported before a new one
// is started on the same port.
func (g *Gate) PortBusy(host string, port int) bool {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := g.Dial("tcp", addr, 200*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
