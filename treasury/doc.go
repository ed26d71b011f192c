// Package treasury implements the escrow accounting of the marketplace.
//
// Every submitted job deposits its stake into the treasury account and
// writes an open receipt keyed by the job ID. Settlement is strictly
// binary: the receipt closes exactly once, either settled (stake to the
// worker) or refunded (stake back to the submitter). The aggregate
// treasury balance is always reconcilable to the sum of open receipts
// plus any protocol reserve.
package treasury
