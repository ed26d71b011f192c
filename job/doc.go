// Package job defines the Job record — the central entity of the
// marketplace — its lifecycle Status set, and the persistence contract
// stores must satisfy.
//
// A Job owns its stake for its whole lifetime: the amount deposited at
// submission is held in escrow until it settles to the worker on
// verification or returns to the submitter on dead-letter or admin refund.
// No partial movement exists.
//
// Expiry is never a stored status. A lease is expired when the job is
// Leased and the clock has passed its Deadline; every guard derives that
// predicate from the record instead of trusting a background transition.
package job
