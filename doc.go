// Package steward coordinates long-running, multi-step automation
// processes with built-in human-in-the-loop approval gates.
//
// steward runs fully in-process: an event bus backed by a durable log, a
// workflow engine that drives runs instantiated from named templates, an
// approval gateway that suspends a run until an external decision event
// arrives, and a metrics recorder that survives restarts.
//
// # Core concepts
//
//  1. EventBus
//  2. WorkflowCatalog
//  3. Engine
//  4. ApprovalGateway
//  5. MetricsRecorder
//
// # EventBus
//
// The bus appends every published event to an ordered, append-only log
// and notifies subscribers synchronously, in registration order, on the
// publisher's goroutine. All publishers observe one total order of
// events. The log can be backed by memory, a single JSON document, SQLite,
// PostgreSQL or Redis.
//
// Step handlers are external collaborators: they subscribe to the event
// types their templates name and react to published step events. The
// engine itself carries no handler logic.
//
// # Engine
//
// A workflow template is a named, ordered list of steps; a run is one
// instantiation of a template with its own status and step cursor. Steps
// execute strictly in declared order. Normal steps publish their event;
// approval gates request an external decision and wait for it. A rejected
// or timed-out gate pauses the run and escalates; an operator resumes or
// cancels it.
//
//	sys := steward.NewInMemorySystem(steward.Options{})
//	run, err := sys.Engine.Create("feature",
//		[]string{"planner", "writer", "tester"},
//		[]string{"plan", "write", "test"},
//		"normal")
//	if err != nil {
//		return err
//	}
//	run, err = sys.Engine.Start(ctx, run.ID)
//
// # Approvals
//
// A gate publishes an approval_requested event, notifies the configured
// channel, and polls the log for a decision event with a matching alertId.
// Decisions are ordinary events, so any process that can publish to the
// log can resolve a gate:
//
//	sys.Bus.Publish(ctx, steward.EventDecision, steward.DecisionPayload{
//		AlertID:  alertID,
//		Approved: true,
//		User:     "ops",
//	}.ToPayload())
//
// A timeout counts as a rejection; both pause the run. Resume retries the
// gate with a fresh alert.
package steward
