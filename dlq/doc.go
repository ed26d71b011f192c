// Package dlq holds the dead letter queue: jobs that exhausted their
// retry budget or were force-refunded by the admin path. Each entry
// snapshots the job at death together with the refund that closed its
// escrow, so the DLQ is auditable without the job record.
//
// Dead letter is terminal for the original job. Resubmit creates a fresh
// job with a fresh escrow deposit; it never revives the dead one.
package dlq
