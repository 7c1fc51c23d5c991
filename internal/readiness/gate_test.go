package readiness

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("connection refused")

// fakeConn satisfies net.Conn just enough for the gate's close-after-connect.
type fakeConn struct{ net.Conn }

func (fakeConn) Close() error { return nil }

// testGate wires a fake clock: Sleep advances time, Dial succeeds after
// readyAfter attempts (never when readyAfter < 0).
func testGate(readyAfter int) (*Gate, *int) {
	now := time.Unix(0, 0)
	attempts := 0

	g := &Gate{
		Dial: func(network, addr string, timeout time.Duration) (net.Conn, error) {
			attempts++
			if readyAfter >= 0 && attempts > readyAfter {
				return fakeConn{}, nil
			}
			return nil, errRefused
		},
		Now:    func() time.Time { return now },
		Sleep:  func(d time.Duration) { now = now.Add(d) },
		Logger: zerolog.Nop(),
	}
	return g, &attempts
}

func TestAwaitReadyImmediately(t *testing.T) {
	g, attempts := testGate(0)

	state := g.Await("127.0.0.1", 8000, 10*time.Second)
	assert.Equal(t, Ready, state)
	assert.Equal(t, 1, *attempts)
}

func TestAwaitReadyAfterPolling(t *testing.T) {
	g, attempts := testGate(3)

	state := g.Await("127.0.0.1", 8000, 10*time.Second)
	assert.Equal(t, Ready, state)
	assert.Equal(t, 4, *attempts)
}

func TestAwaitTimesOut(t *testing.T) {
	g, attempts := testGate(-1)

	state := g.Await("127.0.0.1", 8000, 5*time.Second)
	assert.Equal(t, TimedOut, state)
	// One attempt per PollInterval plus the final one at the deadline.
	assert.Equal(t, 6, *attempts)
}

func TestAwaitZeroTimeoutGetsOneAttempt(t *testing.T) {
	g, attempts := testGate(-1)

	state := g.Await("127.0.0.1", 8000, 0)
	assert.Equal(t, TimedOut, state)
	assert.Equal(t, 1, *attempts)
}

func TestAwaitReadyOnLastAttempt(t *testing.T) {
	g, _ := testGate(2)

	state := g.Await("127.0.0.1", 8000, 2*time.Second)
	assert.Equal(t, Ready, state)
}

func TestPortBusy(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() {
		_ = listener.Close()
	}()

	port := listener.Addr().(*net.TCPAddr).Port
	g := NewGate(zerolog.Nop())

	assert.True(t, g.PortBusy("127.0.0.1", port))

	require.NoError(t, listener.Close())
	assert.False(t, g.PortBusy("127.0.0.1", port))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "timed-out", TimedOut.String())
}
