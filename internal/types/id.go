// README: Shared identifier type used across modules.
package types

import "github.com/google/uuid"

type ID string

// NewID returns a random UUIDv4 identifier.
func NewID() ID {
	return ID(uuid.NewString())
}
