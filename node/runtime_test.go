package node

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylp/nseqe/errors"
	"github.com/tylp/nseqe/runner"
	"github.com/tylp/nseqe/script"
)

// freePort reserves an ephemeral TCP port and releases it for the test.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func waitForSequence(t *testing.T, rt *Runtime, state runner.State) runner.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := rt.Status().Sequence; st.State == state {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("node %s never reached sequence state %s (now %s)",
		rt.Name(), state, rt.Status().Sequence.State)
	return runner.Status{}
}

func startRuntime(t *testing.T, model script.Node) *Runtime {
	t.Helper()
	rt, err := NewRuntime(RuntimeDeps{Node: model})
	require.NoError(t, err)
	require.NoError(t, rt.Initialize())
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { _ = rt.Stop(2 * time.Second) })
	return rt
}

func TestRuntimeLifecycleErrors(t *testing.T) {
	_, err := NewRuntime(RuntimeDeps{})
	require.Error(t, err, "nameless model rejected")

	rt, err := NewRuntime(RuntimeDeps{Node: script.Node{Name: "n1"}})
	require.NoError(t, err)
	assert.NotEmpty(t, rt.ID())
	assert.Equal(t, "n1", rt.Name())

	// Start before Initialize.
	err = rt.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotStarted)

	require.NoError(t, rt.Initialize())
	assert.ErrorIs(t, rt.Initialize(), errors.ErrAlreadyStarted)

	require.NoError(t, rt.Start(context.Background()))
	assert.ErrorIs(t, rt.Start(context.Background()), errors.ErrAlreadyStarted)

	require.NoError(t, rt.Stop(2*time.Second))
	require.NoError(t, rt.Stop(2*time.Second)) // idempotent
}

func TestRuntimeStatusBeforeInitialize(t *testing.T) {
	rt, err := NewRuntime(RuntimeDeps{Node: script.Node{Name: "n1"}})
	require.NoError(t, err)

	st := rt.Status()
	assert.Equal(t, runner.StateIdle, st.Sequence.State)
	assert.Equal(t, "n1", st.Name)
	assert.Equal(t, rt.ID(), st.ID)
}

// TestBindWaitConnectSend runs the canonical two-node exchange on loopback:
// node A binds and waits for a connection then a message; node B connects and
// sends. Both sequences must complete.
func TestBindWaitConnectSend(t *testing.T) {
	port := freePort(t)
	listen := script.Endpoint{Address: "127.0.0.1", Port: port}
	anyLoopback := script.Endpoint{Address: "127.0.0.1"} // portless

	nodeA := script.Node{
		Name: "receiver",
		Sequence: []script.Action{
			script.Bind{Interface: listen, Protocol: script.TCP},
			script.Wait{Event: script.ConnectionEvent{
				Specs: []script.ConnectionSpec{
					{From: anyLoopback, To: listen, Protocol: script.TCP},
				},
				Timeout: 5 * time.Second,
			}},
			script.Wait{Event: script.MessagesEvent{
				Order: script.Unordered,
				Matches: []script.MessageMatch{
					{From: anyLoopback, To: listen, Protocol: script.TCP, Buffer: []byte("ping")},
				},
				Timeout: 5 * time.Second,
			}},
		},
	}

	nodeB := script.Node{
		Name: "sender",
		Sequence: []script.Action{
			script.Connect{To: listen, Protocol: script.TCP, Timeout: 2 * time.Second},
			script.Send{
				Mode:     script.Unicast,
				To:       []script.Endpoint{listen},
				Buffer:   []byte("ping"),
				Protocol: script.TCP,
			},
		},
	}

	receiver := startRuntime(t, nodeA)

	// The receiver blocks on its connection wait before the sender starts.
	waitForSequence(t, receiver, runner.StateBlocked)

	sender := startRuntime(t, nodeB)

	waitForSequence(t, sender, runner.StateCompleted)
	waitForSequence(t, receiver, runner.StateCompleted)

	// The accepted connection is registered on the receiver side.
	assert.Equal(t, 1, receiver.Status().Connections)
	assert.Equal(t, 1, sender.Status().Connections)
}

func TestRuntimeStopCancelsPendingWait(t *testing.T) {
	model := script.Node{
		Name: "waiter",
		Sequence: []script.Action{
			script.Wait{Event: script.MessagesEvent{
				Order: script.Unordered,
				Matches: []script.MessageMatch{{
					From:     script.Endpoint{Address: "10.0.0.1"},
					To:       script.Endpoint{Address: "127.0.0.1", Port: 1},
					Protocol: script.UDP,
					Buffer:   []byte("never"),
				}},
				Timeout: time.Minute,
			}},
		},
	}

	rt := startRuntime(t, model)
	waitForSequence(t, rt, runner.StateBlocked)

	require.NoError(t, rt.Stop(2*time.Second))

	st := rt.Status()
	assert.Equal(t, runner.StateFailed, st.Sequence.State)
	assert.Contains(t, st.Sequence.Reason, "wait cancelled")
	assert.Equal(t, 0, st.Connections)
}

func TestRuntimeTasksSurviveSequenceFailure(t *testing.T) {
	model := script.Node{
		Name: "resilient",
		Tasks: []script.Task{{
			Name:     "pulse",
			Interval: 10 * time.Millisecond,
			Actions:  []script.Action{script.Sleep{Duration: time.Millisecond}},
		}},
		Sequence: []script.Action{
			// Fails immediately: no connection exists for this unicast.
			script.Send{
				Mode:     script.Unicast,
				To:       []script.Endpoint{{Address: "127.0.0.1", Port: 9}},
				Buffer:   []byte("x"),
				Protocol: script.UDP,
			},
		},
	}

	rt := startRuntime(t, model)
	waitForSequence(t, rt, runner.StateFailed)

	ticksAt := func() uint64 {
		for _, st := range rt.Status().Tasks {
			if st.Name == "pulse" {
				return st.Ticks
			}
		}
		return 0
	}

	// Tasks keep ticking after the sequence fails.
	deadline := time.Now().Add(3 * time.Second)
	base := ticksAt()
	for time.Now().Before(deadline) && ticksAt() < base+3 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, ticksAt(), base+3, "tasks stopped ticking after sequence failure")

	require.NoError(t, rt.Stop(2*time.Second))
	for _, st := range rt.Status().Tasks {
		assert.False(t, st.Running)
	}
}

func TestRuntimeConnectionArrivalBeforeWait(t *testing.T) {
	port := freePort(t)
	listen := script.Endpoint{Address: "127.0.0.1", Port: port}

	// The receiver sleeps before waiting, so the sender's connection and
	// message arrive while no wait is pending; retention must still let
	// the later waits match.
	nodeA := script.Node{
		Name: "late-waiter",
		Sequence: []script.Action{
			script.Bind{Interface: listen, Protocol: script.TCP},
			script.Sleep{Duration: 300 * time.Millisecond},
			script.Wait{Event: script.ConnectionEvent{
				Specs: []script.ConnectionSpec{
					{From: script.Endpoint{Address: "127.0.0.1"}, To: listen, Protocol: script.TCP},
				},
				Timeout: 5 * time.Second,
			}},
			script.Wait{Event: script.MessagesEvent{
				Order: script.Unordered,
				Matches: []script.MessageMatch{{
					From:     script.Endpoint{Address: "127.0.0.1"},
					To:       listen,
					Protocol: script.TCP,
					Buffer:   []byte("early"),
				}},
				Timeout: 5 * time.Second,
			}},
		},
	}
	nodeB := script.Node{
		Name: "early-sender",
		Sequence: []script.Action{
			script.Connect{To: listen, Protocol: script.TCP, Timeout: 2 * time.Second},
			script.Send{
				Mode:     script.Unicast,
				To:       []script.Endpoint{listen},
				Buffer:   []byte("early"),
				Protocol: script.TCP,
			},
		},
	}

	receiver := startRuntime(t, nodeA)
	waitForSequence(t, receiver, runner.StateBlocked)

	sender := startRuntime(t, nodeB)
	waitForSequence(t, sender, runner.StateCompleted)
	waitForSequence(t, receiver, runner.StateCompleted)
}
