package taskfair

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("taskfair: no store configured")
	ErrNoLedger    = errors.New("taskfair: no ledger configured")
	ErrStoreClosed = errors.New("taskfair: store closed")

	// Not found errors.
	ErrJobNotFound          = errors.New("taskfair: job not found")
	ErrSubscriptionNotFound = errors.New("taskfair: worker subscription not found")
	ErrDLQNotFound          = errors.New("taskfair: dlq entry not found")
	ErrEventNotFound        = errors.New("taskfair: event not found")
	ErrReceiptNotFound      = errors.New("taskfair: escrow receipt not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("taskfair: job already exists")

	// Argument errors. All of them match ErrInvalidArgument via errors.Is.
	ErrInvalidArgument  = errors.New("taskfair: invalid argument")
	ErrInvalidPayload   = errors.New("taskfair: payload exceeds size cap")
	ErrInvalidQueueName = errors.New("taskfair: invalid queue name")
	ErrInvalidTimeout   = errors.New("taskfair: visibility timeout out of range")
	ErrInvalidStake     = errors.New("taskfair: stake must be positive")
	ErrInvalidBatchSize = errors.New("taskfair: batch size out of range")

	// Role / state errors.
	ErrUnauthorized = errors.New("taskfair: caller lacks the required role")
	ErrInvalidState = errors.New("taskfair: invalid state transition")
	ErrLeaseExpired = errors.New("taskfair: lease deadline has passed")
	ErrNotDeletable = errors.New("taskfair: job stake not yet resolved")

	// Money errors.
	ErrInsufficientTreasury = errors.New("taskfair: escrow does not cover the requested amount")
	ErrInsufficientFunds    = errors.New("taskfair: account balance too low")
)

// argumentErrs are the specific validation sentinels that also report
// themselves as ErrInvalidArgument so callers can match the whole class.
var argumentErrs = []error{
	ErrInvalidPayload,
	ErrInvalidQueueName,
	ErrInvalidTimeout,
	ErrInvalidStake,
	ErrInvalidBatchSize,
}

// IsInvalidArgument reports whether err belongs to the argument-validation
// class of the error taxonomy.
func IsInvalidArgument(err error) bool {
	if errors.Is(err, ErrInvalidArgument) {
		return true
	}
	for _, sentinel := range argumentErrs {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// IsInvalidState reports whether err belongs to the stale-state class,
// including expired-lease races. Callers should re-fetch and retry.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrLeaseExpired)
}
