package dicomio

import (
	"math/big"

	"github.com/google/uuid"
)

// UIDRoot is the ISO arc for UUID-derived UIDs
const UIDRoot = "2.25."

// NewUID returns a fresh UID of the form 2.25.<uuid as decimal>
func NewUID() string {
	id := uuid.New()
	return UIDRoot + new(big.Int).SetBytes(id[:]).String()
}
