package engine

import (
	"fmt"

	"github.com/tylp/nseqe/script"
)

// ValidationIssue is a single problem found in a scenario model.
type ValidationIssue struct {
	Node    string `json:"node"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements error.
func (i ValidationIssue) Error() string {
	if i.Node == "" {
		return fmt.Sprintf("%s: %s", i.Field, i.Message)
	}
	return fmt.Sprintf("node %q: %s: %s", i.Node, i.Field, i.Message)
}

// ValidationResult collects every issue found in a scenario. A scenario is
// only runnable when Valid is true.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidateScenario checks a scenario's node models for problems the runtimes
// cannot recover from: duplicate or empty node names, non-positive task
// intervals, and malformed actions. It reports all issues at once rather than
// stopping at the first.
func ValidateScenario(models []script.Node) ValidationResult {
	var issues []ValidationIssue

	if len(models) == 0 {
		issues = append(issues, ValidationIssue{
			Field:   "nodes",
			Message: "scenario has no nodes",
		})
	}

	seen := make(map[string]bool, len(models))
	for _, model := range models {
		if model.Name == "" {
			issues = append(issues, ValidationIssue{
				Field:   "name",
				Message: "node name is required",
			})
		} else if seen[model.Name] {
			issues = append(issues, ValidationIssue{
				Node:    model.Name,
				Field:   "name",
				Message: "duplicate node name",
			})
		}
		seen[model.Name] = true

		for ti, task := range model.Tasks {
			if task.Name == "" {
				issues = append(issues, ValidationIssue{
					Node:    model.Name,
					Field:   fmt.Sprintf("tasks[%d].name", ti),
					Message: "task name is required",
				})
			}
			if task.Interval <= 0 {
				issues = append(issues, ValidationIssue{
					Node:    model.Name,
					Field:   fmt.Sprintf("tasks[%d].interval", ti),
					Message: "task interval must be positive",
				})
			}
			for ai, action := range task.Actions {
				field := fmt.Sprintf("tasks[%d].actions[%d]", ti, ai)
				issues = append(issues, validateAction(model.Name, field, action)...)
			}
		}

		for ai, action := range model.Sequence {
			field := fmt.Sprintf("sequence[%d]", ai)
			issues = append(issues, validateAction(model.Name, field, action)...)
		}
	}

	return ValidationResult{Valid: len(issues) == 0, Errors: issues}
}

func validateAction(node, field string, action script.Action) []ValidationIssue {
	var issues []ValidationIssue
	bad := func(msg string) {
		issues = append(issues, ValidationIssue{Node: node, Field: field, Message: msg})
	}

	switch a := action.(type) {
	case script.Connect:
		if a.To.IsZero() {
			bad("connect requires a target endpoint")
		}
		issues = append(issues, validateProtocol(node, field, a.Protocol)...)
	case script.Disconnect:
		if a.Target.IsZero() {
			bad("disconnect requires a target endpoint")
		}
		issues = append(issues, validateProtocol(node, field, a.Protocol)...)
	case script.Bind:
		if a.Interface.IsZero() {
			bad("bind requires an interface endpoint")
		}
		issues = append(issues, validateProtocol(node, field, a.Protocol)...)
	case script.Send:
		if len(a.To) == 0 {
			bad("send requires at least one target")
		}
		if len(a.Buffer) == 0 {
			bad("send requires a non-empty buffer")
		}
		switch a.Mode {
		case script.Unicast, script.Broadcast:
		default:
			bad(fmt.Sprintf("unknown send mode %q", a.Mode))
		}
		if a.Mode == script.Broadcast {
			if a.Protocol != script.UDP {
				bad("broadcast send requires UDP")
			}
			if len(a.To) != 1 {
				bad("broadcast send takes exactly one subnet target")
			}
		}
		issues = append(issues, validateProtocol(node, field, a.Protocol)...)
	case script.Sleep:
		if a.Duration <= 0 {
			bad("sleep duration must be positive")
		}
	case script.Wait:
		issues = append(issues, validateWait(node, field, a.Event)...)
	default:
		bad("unknown action variant")
	}

	return issues
}

func validateWait(node, field string, event script.WaitEvent) []ValidationIssue {
	var issues []ValidationIssue
	bad := func(msg string) {
		issues = append(issues, ValidationIssue{Node: node, Field: field, Message: msg})
	}

	switch ev := event.(type) {
	case script.SleepEvent:
		if ev.Duration <= 0 {
			bad("wait sleep duration must be positive")
		}
	case script.ConnectionEvent:
		if len(ev.Specs) == 0 {
			bad("connection wait requires at least one expected connection")
		}
		if ev.Timeout <= 0 {
			bad("connection wait timeout must be positive")
		}
	case script.MessagesEvent:
		if len(ev.Matches) == 0 {
			bad("message wait requires at least one expected message")
		}
		if ev.Timeout <= 0 {
			bad("message wait timeout must be positive")
		}
		switch ev.Order {
		case script.Ordered, script.Unordered:
		default:
			bad(fmt.Sprintf("unknown ordering mode %q", ev.Order))
		}
		for mi, m := range ev.Matches {
			if len(m.Buffer) == 0 && m.Message == nil {
				issues = append(issues, ValidationIssue{
					Node:    node,
					Field:   fmt.Sprintf("%s.matches[%d]", field, mi),
					Message: "message match requires a buffer or a decoded message",
				})
			}
		}
	case nil:
		bad("wait requires an event")
	default:
		bad("unknown wait event variant")
	}

	return issues
}

func validateProtocol(node, field string, p script.Protocol) []ValidationIssue {
	switch p {
	case script.TCP, script.UDP:
		return nil
	default:
		return []ValidationIssue{{
			Node:    node,
			Field:   field,
			Message: fmt.Sprintf("unknown protocol %q", p),
		}}
	}
}
