// Package worker provides the worker-side runtime: a subscription
// record and registry contract for workers announcing the queues they
// serve, an Executor that runs leased jobs through middleware and
// per-queue handlers, and a Runner that polls for leases and reports
// completion or failure back to the marketplace.
package worker
