package script

import (
	"time"
)

// Task is a recurring background action set, independent of the sequence.
// Its lifetime equals the node's lifetime: it starts when the node starts and
// stops only at node teardown, regardless of sequence completion or failure.
type Task struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Actions  []Action      `json:"actions"`
}

// Node is one simulated or real host: a set of background tasks plus an
// ordered action sequence. Created once from a validated model; all owned
// connections are closed on node teardown.
type Node struct {
	Name     string   `json:"name"`
	Tasks    []Task   `json:"tasks,omitempty"`
	Sequence []Action `json:"sequence"`
}
