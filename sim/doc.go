// Package sim holds the types shared by the run controller and the
// simulation kernel: simulated time, components, events and the hook set
// the kernel calls back into.
//
// # Reading Guide
//
// Start with these files to understand a run:
//   - kernel.go: the Kernel the controller drives and the Hooks it receives
//   - component.go: the controller's view of a component and its statistics
//   - envir/controller.go: the run state machine (setup, event loop, shutdown)
//
// # Architecture
//
// The sim package defines interfaces and value types; implementations live in
// sub-packages:
//   - sim/envir/: run controller, option snapshot and batch runner
//   - sim/kernel/: event-heap kernel with sequential and realtime classes
//   - sim/netlib/: built-in networks (QueueNet)
//   - sim/config/: option registry and YAML/CUE configuration stores
//   - sim/rng/: seeded generator pool and per-component mappings
//   - sim/results/: result recorder chains
//   - sim/output/: vector, scalar and snapshot backends (SQLite, memory, file)
//   - sim/eventlog/: event log recording and summaries
//   - sim/fingerprint/, sim/clock/, sim/lifecycle/: run fingerprint, time
//     limits and lifecycle notifications
//
// # Key Interfaces
//
//   - Kernel: setup, event stepping and teardown of one network
//   - Hooks: component, event, message and RNG callbacks into the controller
//   - Component: identity, statistics metadata and signal subscriptions
package sim
