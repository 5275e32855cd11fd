package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylp/nseqe/script"
)

func TestValidateScenarioAcceptsWellFormedModels(t *testing.T) {
	models := []script.Node{
		{
			Name: "server",
			Tasks: []script.Task{{
				Name:     "pulse",
				Interval: time.Second,
				Actions: []script.Action{
					script.Send{
						Mode:     script.Unicast,
						To:       []script.Endpoint{script.NewEndpoint("10.0.0.2", 4000)},
						Buffer:   []byte("tick"),
						Protocol: script.UDP,
					},
				},
			}},
			Sequence: []script.Action{
				script.Bind{Interface: script.NewEndpoint("10.0.0.1", 4000), Protocol: script.TCP},
				script.Wait{Event: script.ConnectionEvent{
					Specs: []script.ConnectionSpec{{
						From:     script.NewEndpoint("10.0.0.2", 0),
						To:       script.NewEndpoint("10.0.0.1", 4000),
						Protocol: script.TCP,
					}},
					Timeout: 5 * time.Second,
				}},
			},
		},
		{
			Name: "client",
			Sequence: []script.Action{
				script.Sleep{Duration: 100 * time.Millisecond},
				script.Connect{To: script.NewEndpoint("10.0.0.1", 4000), Protocol: script.TCP, Timeout: time.Second},
			},
		},
	}

	result := ValidateScenario(models)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateScenarioIssues(t *testing.T) {
	tests := []struct {
		name    string
		models  []script.Node
		wantMsg string
	}{
		{
			name:    "empty scenario",
			models:  nil,
			wantMsg: "scenario has no nodes",
		},
		{
			name:    "nameless node",
			models:  []script.Node{{}},
			wantMsg: "node name is required",
		},
		{
			name: "duplicate names",
			models: []script.Node{
				{Name: "twin"},
				{Name: "twin"},
			},
			wantMsg: "duplicate node name",
		},
		{
			name: "zero task interval",
			models: []script.Node{{
				Name:  "n",
				Tasks: []script.Task{{Name: "pulse", Actions: []script.Action{script.Sleep{Duration: time.Second}}}},
			}},
			wantMsg: "task interval must be positive",
		},
		{
			name: "connect without target",
			models: []script.Node{{
				Name:     "n",
				Sequence: []script.Action{script.Connect{Protocol: script.TCP}},
			}},
			wantMsg: "connect requires a target endpoint",
		},
		{
			name: "unknown protocol",
			models: []script.Node{{
				Name:     "n",
				Sequence: []script.Action{script.Bind{Interface: script.NewEndpoint("0.0.0.0", 80), Protocol: "sctp"}},
			}},
			wantMsg: `unknown protocol "sctp"`,
		},
		{
			name: "broadcast over tcp",
			models: []script.Node{{
				Name: "n",
				Sequence: []script.Action{script.Send{
					Mode:     script.Broadcast,
					To:       []script.Endpoint{script.NewEndpoint("10.0.0.0/24", 4000)},
					Buffer:   []byte("x"),
					Protocol: script.TCP,
				}},
			}},
			wantMsg: "broadcast send requires UDP",
		},
		{
			name: "broadcast with multiple targets",
			models: []script.Node{{
				Name: "n",
				Sequence: []script.Action{script.Send{
					Mode: script.Broadcast,
					To: []script.Endpoint{
						script.NewEndpoint("10.0.0.0/24", 4000),
						script.NewEndpoint("10.0.1.0/24", 4000),
					},
					Buffer:   []byte("x"),
					Protocol: script.UDP,
				}},
			}},
			wantMsg: "broadcast send takes exactly one subnet target",
		},
		{
			name: "send without buffer",
			models: []script.Node{{
				Name: "n",
				Sequence: []script.Action{script.Send{
					Mode:     script.Unicast,
					To:       []script.Endpoint{script.NewEndpoint("10.0.0.1", 4000)},
					Protocol: script.UDP,
				}},
			}},
			wantMsg: "send requires a non-empty buffer",
		},
		{
			name: "wait without event",
			models: []script.Node{{
				Name:     "n",
				Sequence: []script.Action{script.Wait{}},
			}},
			wantMsg: "wait requires an event",
		},
		{
			name: "message wait without matches",
			models: []script.Node{{
				Name: "n",
				Sequence: []script.Action{script.Wait{Event: script.MessagesEvent{
					Order:   script.Ordered,
					Timeout: time.Second,
				}}},
			}},
			wantMsg: "message wait requires at least one expected message",
		},
		{
			name: "match without buffer or message",
			models: []script.Node{{
				Name: "n",
				Sequence: []script.Action{script.Wait{Event: script.MessagesEvent{
					Order:   script.Unordered,
					Matches: []script.MessageMatch{{Protocol: script.UDP}},
					Timeout: time.Second,
				}}},
			}},
			wantMsg: "message match requires a buffer or a decoded message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateScenario(tt.models)
			require.False(t, result.Valid)

			found := false
			for _, issue := range result.Errors {
				if issue.Message == tt.wantMsg {
					found = true
					break
				}
			}
			assert.True(t, found, "expected issue %q, got %v", tt.wantMsg, result.Errors)
		})
	}
}

func TestValidateScenarioReportsAllIssues(t *testing.T) {
	models := []script.Node{{
		Name: "n",
		Sequence: []script.Action{
			script.Connect{Protocol: "sctp"},
			script.Sleep{},
		},
	}}

	result := ValidateScenario(models)
	require.False(t, result.Valid)
	assert.Len(t, result.Errors, 3)
}
