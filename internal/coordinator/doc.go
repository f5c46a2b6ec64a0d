// Package coordinator implements the coordinating side of a run.
//
// The coordinator owns three structures nobody else touches:
//
//   - TaskQueue hands out row indices in ascending order and tracks which
//     of them are still outstanding.
//   - Assembler stores each result in its row slot, exactly once.
//   - Registry tracks every worker's state and the single unit it may hold.
//
// Run drives the protocol in three phases. Seeding sends each worker exactly
// one message, an ASSIGN when a unit is left and a NO_WORK otherwise. The
// dispatch loop receives a completion from whichever worker finishes first,
// records it and hands that same worker the next unit; a worker that finds
// the queue empty is held. Once every row is recorded, each worker receives
// exactly one STOP.
//
// A worker that never answers blocks Run until its context ends. There is
// no reassignment of lost units.
package coordinator
