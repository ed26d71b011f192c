// Package ledger provides implementations of the taskfair.Ledger boundary —
// the external execution environment that finalizes currency movement.
//
// The core never holds funds itself: every escrow deposit, settlement, and
// refund is a single Transfer call that either fully applies or fully
// fails. The in-memory ledger here serializes all transfers under one lock
// to honor that contract for tests and development.
package ledger
