package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tylp/nseqe/script"
)

// Scenario is the JSON document the runner executes: one or more node models
// started together in this process. The file format is a thin binding onto
// the engine's action model; schema validation beyond shape checks stays with
// external tooling.
type Scenario struct {
	Name  string     `json:"name"`
	Nodes []nodeSpec `json:"nodes"`
}

type nodeSpec struct {
	Name     string       `json:"name"`
	Tasks    []taskSpec   `json:"tasks,omitempty"`
	Sequence []actionSpec `json:"sequence"`
}

type taskSpec struct {
	Name     string       `json:"name"`
	Interval duration     `json:"interval"`
	Actions  []actionSpec `json:"actions"`
}

type actionSpec struct {
	Kind string `json:"kind"`

	// connect / disconnect / bind
	To        *script.Endpoint `json:"to,omitempty"`
	Target    *script.Endpoint `json:"target,omitempty"`
	Interface *script.Endpoint `json:"interface,omitempty"`
	Protocol  script.Protocol  `json:"protocol,omitempty"`
	Timeout   duration         `json:"timeout,omitempty"`

	// send
	Mode          script.SendMode   `json:"mode,omitempty"`
	From          *script.Endpoint  `json:"from,omitempty"`
	Targets       []script.Endpoint `json:"targets,omitempty"`
	Buffer        string            `json:"buffer,omitempty"`
	FireAndForget bool              `json:"fire_and_forget,omitempty"`

	// sleep
	Duration duration `json:"duration,omitempty"`

	// wait
	Event *waitSpec `json:"event,omitempty"`
}

type waitSpec struct {
	Kind     script.WaitKind         `json:"kind"`
	Duration duration                `json:"duration,omitempty"`
	Specs    []script.ConnectionSpec `json:"specs,omitempty"`
	Order    script.Order            `json:"order,omitempty"`
	Matches  []matchSpec             `json:"matches,omitempty"`
	Timeout  duration                `json:"timeout,omitempty"`
}

type matchSpec struct {
	From           script.Endpoint `json:"from"`
	To             script.Endpoint `json:"to"`
	Protocol       script.Protocol `json:"protocol"`
	Buffer         string          `json:"buffer"`
	ExpectResponse bool            `json:"expect_response,omitempty"`
}

// duration accepts Go duration strings ("250ms", "5s") in scenario files.
type duration time.Duration

func (d *duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

// LoadScenario reads and binds a scenario file to node models.
func LoadScenario(path string) (string, []script.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return "", nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(sc.Nodes) == 0 {
		return "", nil, fmt.Errorf("scenario has no nodes")
	}

	nodes := make([]script.Node, 0, len(sc.Nodes))
	for _, ns := range sc.Nodes {
		node, err := ns.toNode()
		if err != nil {
			return "", nil, err
		}
		nodes = append(nodes, node)
	}
	return sc.Name, nodes, nil
}

func (ns nodeSpec) toNode() (script.Node, error) {
	if ns.Name == "" {
		return script.Node{}, fmt.Errorf("node without a name")
	}

	node := script.Node{Name: ns.Name}
	for i, as := range ns.Sequence {
		action, err := as.toAction()
		if err != nil {
			return script.Node{}, fmt.Errorf("node %s sequence[%d]: %w", ns.Name, i, err)
		}
		node.Sequence = append(node.Sequence, action)
	}

	for _, ts := range ns.Tasks {
		task := script.Task{Name: ts.Name, Interval: time.Duration(ts.Interval)}
		for i, as := range ts.Actions {
			action, err := as.toAction()
			if err != nil {
				return script.Node{}, fmt.Errorf("node %s task %s actions[%d]: %w", ns.Name, ts.Name, i, err)
			}
			task.Actions = append(task.Actions, action)
		}
		node.Tasks = append(node.Tasks, task)
	}
	return node, nil
}

func (as actionSpec) toAction() (script.Action, error) {
	switch script.ActionKind(as.Kind) {
	case script.KindConnect:
		if as.To == nil {
			return nil, fmt.Errorf("connect without a target")
		}
		return script.Connect{
			To:       *as.To,
			Protocol: as.Protocol,
			Timeout:  time.Duration(as.Timeout),
		}, nil

	case script.KindDisconnect:
		if as.Target == nil {
			return nil, fmt.Errorf("disconnect without a target")
		}
		return script.Disconnect{Target: *as.Target, Protocol: as.Protocol}, nil

	case script.KindBind:
		if as.Interface == nil {
			return nil, fmt.Errorf("bind without an interface")
		}
		return script.Bind{Interface: *as.Interface, Protocol: as.Protocol}, nil

	case script.KindSend:
		mode := as.Mode
		if mode == "" {
			mode = script.Unicast
		}
		send := script.Send{
			Mode:          mode,
			To:            as.Targets,
			Buffer:        []byte(as.Buffer),
			Protocol:      as.Protocol,
			FireAndForget: as.FireAndForget,
		}
		if as.From != nil {
			send.From = *as.From
		}
		return send, nil

	case script.KindSleep:
		return script.Sleep{Duration: time.Duration(as.Duration)}, nil

	case script.KindWait:
		if as.Event == nil {
			return nil, fmt.Errorf("wait without an event")
		}
		return as.Event.toWait()

	default:
		return nil, fmt.Errorf("unknown action kind %q", as.Kind)
	}
}

func (ws waitSpec) toWait() (script.Action, error) {
	switch ws.Kind {
	case script.WaitSleep:
		return script.Wait{Event: script.SleepEvent{Duration: time.Duration(ws.Duration)}}, nil

	case script.WaitConnection:
		if len(ws.Specs) == 0 {
			return nil, fmt.Errorf("connection wait without specs")
		}
		return script.Wait{Event: script.ConnectionEvent{
			Specs:   ws.Specs,
			Timeout: time.Duration(ws.Timeout),
		}}, nil

	case script.WaitMessages:
		if len(ws.Matches) == 0 {
			return nil, fmt.Errorf("message wait without matches")
		}
		order := ws.Order
		if order == "" {
			order = script.Unordered
		}
		matches := make([]script.MessageMatch, 0, len(ws.Matches))
		for _, m := range ws.Matches {
			matches = append(matches, script.MessageMatch{
				From:           m.From,
				To:             m.To,
				Protocol:       m.Protocol,
				Buffer:         []byte(m.Buffer),
				ExpectResponse: m.ExpectResponse,
			})
		}
		return script.Wait{Event: script.MessagesEvent{
			Order:   order,
			Matches: matches,
			Timeout: time.Duration(ws.Timeout),
		}}, nil

	default:
		return nil, fmt.Errorf("unknown wait kind %q", ws.Kind)
	}
}
