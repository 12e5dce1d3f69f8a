package taskrun

import "github.com/xraph/taskrun/id"

// ID is the primary identifier type for audit records and runs.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
