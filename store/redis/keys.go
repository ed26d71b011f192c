package redis

// Redis key naming conventions for taskfair data.
// All keys are prefixed with "taskfair:" to avoid collisions.

const keyPrefix = "taskfair:"

// ── Job keys ──

// jobKey returns the key for a job record: taskfair:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// queueKey returns the Sorted Set key holding a queue's pending index:
// taskfair:queue:{name}. Members are job IDs scored by negated stake, so
// ZRANGE walks highest stake first; equal stakes tie-break on the
// K-sortable ID, which is arrival order.
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// leasedKey is the Sorted Set of all leased job IDs scored by lease
// deadline (UnixNano), so expired leases are a range query.
const leasedKey = keyPrefix + "leased"

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── Worker subscription keys ──

// subKey returns the key for an actor's subscription: taskfair:sub:{actor}
func subKey(actor string) string { return keyPrefix + "sub:" + actor }

// subActorsKey is the Set tracking all subscribed actors.
const subActorsKey = keyPrefix + "sub_actors"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry: taskfair:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Event keys ──

// eventKey returns the key for an event record: taskfair:event:{id}
func eventKey(id string) string { return keyPrefix + "event:" + id }

// eventStreamKey returns the Stream key for an event kind:
// taskfair:events:{kind}
func eventStreamKey(kind string) string { return keyPrefix + "events:" + kind }

// ackedEventsKey is the Set of acknowledged event IDs.
const ackedEventsKey = keyPrefix + "events_acked"

// ── Treasury keys ──

// receiptKey returns the key for a job's escrow receipt:
// taskfair:receipt:{jobID}
func receiptKey(jobID string) string { return keyPrefix + "receipt:" + jobID }

// receiptJobsKey is the Set tracking job IDs with a receipt.
const receiptJobsKey = keyPrefix + "receipt_jobs"
