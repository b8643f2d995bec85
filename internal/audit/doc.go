// Package audit implements the append path of the security audit log.
//
// # Components
//
//   - [Writer]: single goroutine that stamps each event with an id and a
//     non-decreasing timestamp, persists it through a [Store] and only then
//     reports success to the caller.
//   - [Mirror]: buffered async relay that hands persisted events to a
//     [Sink], either dropping or waiting when the buffer is full.
//   - Sinks: channel, JSON lines, zap, no-op.
//
// # What this package must NOT do
//
//   - Decide which events to emit. The Engine and flow functions do that.
//   - Rewrite or delete persisted events. Only an explicit retention call
//     against the [Store] removes anything.
//   - Import fleetauth or any sibling internal package.
package audit
