// Package queue holds the queue-level pieces of the marketplace: name
// validation, derived per-queue statistics, and the Manager that throttles
// lease traffic per queue.
//
// The pending index itself lives inside each store backend so that index
// membership and job status commit together; this package only defines the
// rules around it.
package queue
