package credits

import "github.com/gr8r/credits/id"

// ID is the primary identifier type for all credits entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
