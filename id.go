package taskfair

import "github.com/taskfair/taskfair/id"

// ID is the primary identifier type for all taskfair entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
