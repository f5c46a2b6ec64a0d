// Package types defines the core data structures shared by the coordinator,
// the workers and the transports.
//
// This package contains:
//   - Units of work and the per-unit Result
//   - The ResultMatrix assembled by the coordinator
//   - The closed set of protocol messages (Assign, Completion, NoWork, Stop)
//   - The JobSpec handed to remote workers
//   - The error taxonomy of a run
package types
