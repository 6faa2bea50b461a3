package renderq

import "github.com/xraph/renderq/id"

// ID is the primary identifier type for all renderq entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
