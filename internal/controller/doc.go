// Package controller implements the command-and-control side of the ZOMP
// fabric: the listening endpoint, the registry of connected agents, command
// dispatch, and report persistence.
//
// # Manager
//
// The Manager tracks all connected agents:
//
//	mgr := controller.NewManager(controller.Params{Sink: sink, Logger: logger, Metrics: metrics})
//
// Key operations:
//
//   - Start(addr): Bind the listener and begin accepting agents
//   - Dispatch(command, target, invocation): Send RUN/STOP/REPORT to one or all agents
//   - Agents(): Console-facing registry listing
//   - Shutdown(): Broadcast CLOSE and tear everything down
//
// # Registry
//
// The registry is an ordered, insert-only list. Agents are addressed by
// their 1-based position, with 0 meaning "all"; entries are never removed,
// only marked closed on disconnect, so positions stay stable for the
// process lifetime. The accept path appends under the write lock, the
// dispatch path reads a snapshot, and each entry's fields are immutable
// after insertion.
//
// # Receiver tasks
//
// Every accepted connection gets one goroutine running the receive loop for
// the connection's lifetime. It answers registrations with ACCEPT, logs
// agent-side errors without dropping the session, and writes report bodies
// (codes 12 and 30) to the file sink and the optional history store. The
// console command loop never blocks on agent I/O.
//
// # Concurrency
//
// Dispatch writes are fire-and-forget. Ordering between a dispatch and the
// matching response holds per connection (TCP ordering); a broadcast gives
// no cross-agent ordering guarantee.
package controller
