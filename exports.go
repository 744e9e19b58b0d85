package progression

import (
	"github.com/xraph/progression/id"
	"github.com/xraph/progression/types"
)

// Re-export common types for convenience so users don't have to import the
// id and types packages.

// ID is the primary identifier type for all Progression entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

// Entity is re-exported from the types package.
type Entity = types.Entity

// NewEntity is re-exported from the types package.
var NewEntity = types.NewEntity
