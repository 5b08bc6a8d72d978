package tally

import (
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/types"
)

// Re-export common types for convenience so users don't have to import the
// types and entry packages for everyday calls.

// Pence is re-exported from types package.
type Pence = types.Pence

// Entity is re-exported from types package.
type Entity = types.Entity

// Holder is re-exported from entry package.
type Holder = entry.Holder

// Re-export holder constructors
var (
	UserHolder  = entry.User
	MediaHolder = entry.Media
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
