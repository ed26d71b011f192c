// Package audithook is a taskfair extension that bridges lifecycle
// transitions to an immutable audit trail backend.
//
// Every transition that touches money (escrow, settlement, refund) and
// every lifecycle change emits a structured audit event through the
// [Recorder] interface, with severity reflecting how unusual the path
// is: info for the normal flow, warning for retries and expiries,
// critical for dead letters and forced refunds.
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobDeadLettered,
//	        audithook.ActionJobRefunded,
//	    ),
//	)
package audithook
