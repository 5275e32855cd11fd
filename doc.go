// Package nseqe provides a sequence execution engine for declarative,
// multi-host network interaction scripts.
//
// A script describes one host ("node") as a set of background periodic tasks
// plus an ordered sequence of network actions (connect, disconnect, bind,
// send, sleep, wait). The engine turns that validated model into a running
// concurrent automaton: it manages sockets and connections, drives the action
// sequence one step at a time, runs tasks on independent schedules, and
// resolves wait actions against live inbound traffic under time bounds.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│           Node Runtime              │  lifecycle (start, status, stop)
//	│  (node: composes everything below)  │
//	└─────────────────────────────────────┘
//	        ↓ drives                 ↓ schedules
//	┌──────────────────┐   ┌──────────────────┐
//	│ Sequence Runner  │   │  Task Supervisor │   one goroutine per task
//	│ (runner)         │   │  (task)          │
//	└──────────────────┘   └──────────────────┘
//	        ↓ executes actions through
//	┌──────────────────┐   ┌──────────────────┐
//	│  Socket Layer    │──→│  Event Matcher   │   inbound messages and
//	│  (socket)        │   │  (matcher)       │   connection arrivals
//	└──────────────────┘   └──────────────────┘
//	        ↓ registers in
//	┌─────────────────────────────────────┐
//	│       Connection Registry           │  sole owner of socket handles
//	│       (conns)                       │
//	└─────────────────────────────────────┘
//
// Tasks and the sequence runner execute concurrently and coordinate only
// through the connection registry and the diagnostics stream; both of those
// are explicit, synchronized service objects so multiple node runtimes can
// coexist in one process.
//
// # Packages
//
// Engine core:
//   - script: the validated action model (endpoints, actions, waits, tasks)
//   - socket: TCP/UDP connect, bind, send, receive loops, subnet expansion
//   - conns: connection registry keyed by (local, remote, protocol)
//   - matcher: per-wait event matching with ordering modes and timeouts
//   - task: background task scheduling for the node lifetime
//   - runner: the ordered action sequence state machine
//   - node: runtime composition and lifecycle
//   - codec: injected payload codec capability
//   - diag: append-only diagnostics event stream
//
// Orchestration:
//   - engine: validates a scenario and runs its node runtimes as a unit
//   - health: per-node health monitor with an HTTP endpoint
//
// Infrastructure:
//   - errors: structured error handling and classification
//   - metric: Prometheus metrics registry
//   - natsclient: NATS connection management for diagnostics forwarding
//   - pkg/buffer: bounded ring buffers with overflow policies
//   - pkg/retry: exponential backoff retry
//
// # Usage
//
// Single node:
//
//	stream, err := diag.NewStream(diag.StreamDeps{Logger: logger})
//	if err != nil { ... }
//	rt, err := node.NewRuntime(node.RuntimeDeps{
//	    Node:   model, // script.Node from an external parser
//	    Diag:   stream,
//	    Logger: logger,
//	})
//	if err != nil { ... }
//	if err := rt.Initialize(); err != nil { ... }
//	if err := rt.Start(ctx); err != nil { ... }
//	defer rt.Stop(5 * time.Second)
//
//	st := rt.Status() // Idle, Running, Blocked(action), Completed, Failed
//
// Whole scenario:
//
//	eng := engine.New(engine.Deps{Logger: logger, Diag: stream})
//	if err := eng.Load(models); err != nil { ... }
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(5 * time.Second)
//	err = eng.Await(ctx) // blocks until every sequence is terminal
//
// The engine consumes an already-validated model: schema validation is the
// concern of the external configuration parser. Payload framing is injected
// via codec.Codec; without one, buffers are opaque bytes.
package nseqe
