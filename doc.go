// Package taskfair provides the lifecycle and escrow core of a decentralized
// job marketplace. Submitters post jobs with an attached stake, workers lease
// and execute them, and the stake settles to the worker once the submitter
// verifies the result — or returns to the submitter on dead-letter or admin
// refund. No trusted intermediary holds funds: a ledger adapter applies every
// state-mutating call atomically.
//
// Taskfair is designed as a library, not a service. Import it, configure a
// store and a ledger, and drive the lifecycle through the engine package.
//
// # Quick Start
//
//	m, err := taskfair.New(
//	    taskfair.WithStore(memory.New()),
//	    taskfair.WithLedger(ledger.NewMemory()),
//	)
//
// # Architecture
//
// Taskfair follows a composable store pattern where each subsystem (job,
// worker registry, dlq, event, treasury receipts) defines its own store
// interface. A single backend implements all of them.
//
// The state machine is purely reactive: there is no internal scheduler.
// Lease expiry is a derived predicate checked lazily, and the sweeper
// package drives ReleaseExpired from outside the core.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package taskfair
