package relayhook

// Webhook event types. Each constant maps to one ext lifecycle hook and
// becomes the envelope's type field on delivery.
const (
	EventJobSubmitted       = "taskfair.job.submitted"
	EventJobLeased          = "taskfair.job.leased"
	EventJobCompleted       = "taskfair.job.completed"
	EventJobVerified        = "taskfair.job.verified"
	EventJobRejected        = "taskfair.job.rejected"
	EventJobRetrying        = "taskfair.job.retrying"
	EventJobDeadLettered    = "taskfair.job.dead_lettered"
	EventJobExpiredReleased = "taskfair.job.expired_released"
	EventJobRefunded        = "taskfair.job.refunded"
	EventJobDeleted         = "taskfair.job.deleted"
)

// AllEvents returns every webhook event type this extension can deliver.
func AllEvents() []string {
	return []string{
		EventJobSubmitted,
		EventJobLeased,
		EventJobCompleted,
		EventJobVerified,
		EventJobRejected,
		EventJobRetrying,
		EventJobDeadLettered,
		EventJobExpiredReleased,
		EventJobRefunded,
		EventJobDeleted,
	}
}
