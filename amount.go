package taskfair

import "fmt"

// Amount is a currency amount in integer base units of the ledger's native
// token. Stakes, settlements, and refunds are always whole Amounts; the
// protocol never splits a stake.
type Amount int64

// Valid reports whether the amount is usable as a stake (strictly positive).
func (a Amount) Valid() bool { return a > 0 }

// String renders the amount in base units.
func (a Amount) String() string { return fmt.Sprintf("%d", int64(a)) }

// Actor is a ledger account identity — a wallet address or another opaque
// identifier minted by the authentication layer. The core compares actors
// for equality and never interprets them.
type Actor string

// IsZero reports whether the actor is unset.
func (a Actor) IsZero() bool { return a == "" }

func (a Actor) String() string { return string(a) }
