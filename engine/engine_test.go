package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylp/nseqe/health"
	"github.com/tylp/nseqe/runner"
	"github.com/tylp/nseqe/script"
)

func sleepNode(name string, d time.Duration) script.Node {
	return script.Node{
		Name:     name,
		Sequence: []script.Action{script.Sleep{Duration: d}},
	}
}

func TestEngineRunsScenarioToCompletion(t *testing.T) {
	monitor := health.NewMonitor()
	eng := New(Deps{Health: monitor})

	models := []script.Node{
		sleepNode("alpha", 20*time.Millisecond),
		sleepNode("beta", 40*time.Millisecond),
	}
	require.NoError(t, eng.Load(models))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, eng.Start(ctx))
	defer func() { _ = eng.Stop(time.Second) }()

	require.NoError(t, eng.Await(ctx))

	statuses := eng.Statuses()
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.Equal(t, runner.StateCompleted, st.Sequence.State, "node %s", st.Name)
	}

	agg := monitor.AggregateHealth("scenario")
	assert.True(t, agg.IsHealthy())
	assert.Equal(t, 2, monitor.Count())
}

func TestEngineAwaitReportsFailure(t *testing.T) {
	monitor := health.NewMonitor()
	eng := New(Deps{Health: monitor})

	// Disconnecting a connection that was never made fails the sequence.
	failing := script.Node{
		Name: "broken",
		Sequence: []script.Action{
			script.Disconnect{
				Target:   script.NewEndpoint("127.0.0.1", 9),
				Protocol: script.TCP,
			},
		},
	}
	require.NoError(t, eng.Load([]script.Node{failing}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, eng.Start(ctx))
	defer func() { _ = eng.Stop(time.Second) }()

	err := eng.Await(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")

	status, ok := monitor.Get("broken")
	require.True(t, ok)
	assert.True(t, status.IsDegraded())
}

func TestEngineLoadRejectsInvalidScenario(t *testing.T) {
	eng := New(Deps{})

	err := eng.Load([]script.Node{{Name: ""}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node name is required")
}

func TestEngineStartRequiresLoad(t *testing.T) {
	eng := New(Deps{})
	require.Error(t, eng.Start(context.Background()))
}

func TestEngineStartIsOneShot(t *testing.T) {
	eng := New(Deps{})
	require.NoError(t, eng.Load([]script.Node{sleepNode("solo", 10*time.Millisecond)}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, eng.Start(ctx))
	defer func() { _ = eng.Stop(time.Second) }()

	require.Error(t, eng.Start(ctx))
}

func TestEngineStopIsIdempotent(t *testing.T) {
	monitor := health.NewMonitor()
	eng := New(Deps{Health: monitor})
	require.NoError(t, eng.Load([]script.Node{sleepNode("solo", 10*time.Millisecond)}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, eng.Start(ctx))

	require.NoError(t, eng.Stop(time.Second))
	require.NoError(t, eng.Stop(time.Second))

	status, ok := monitor.Get("solo")
	require.True(t, ok)
	assert.True(t, status.IsUnhealthy())
}
