// Package engine wires all taskfair subsystems together and owns the
// job lifecycle: every transition (submit, lease, complete, verify,
// reject, fail, expiry release, delete, admin refund) goes through it.
//
// This package exists to break the import cycle: the root taskfair
// package defines Entity and the Ledger interface (imported by job,
// treasury, etc.) and so cannot import those packages back. The engine
// package sits above all subsystem packages and below the application
// layer.
package engine
