package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle
// hook and becomes the Action field of the audit event.
const (
	ActionJobSubmitted       = "job.submitted"
	ActionJobLeased          = "job.leased"
	ActionJobCompleted       = "job.completed"
	ActionJobVerified        = "job.verified"
	ActionJobRejected        = "job.rejected"
	ActionJobRetrying        = "job.retrying"
	ActionJobDeadLettered    = "job.dead_lettered"
	ActionJobExpiredReleased = "job.expired_released"
	ActionJobRefunded        = "job.refunded"
	ActionJobDeleted         = "job.deleted"
)

// Audit event categories group related actions.
const (
	CategoryLifecycle = "taskfair.lifecycle"
	CategoryMoney     = "taskfair.money"
)

// ResourceJob is the resource type for all job audit events.
const ResourceJob = "job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobSubmitted,
		ActionJobLeased,
		ActionJobCompleted,
		ActionJobVerified,
		ActionJobRejected,
		ActionJobRetrying,
		ActionJobDeadLettered,
		ActionJobExpiredReleased,
		ActionJobRefunded,
		ActionJobDeleted,
	}
}
