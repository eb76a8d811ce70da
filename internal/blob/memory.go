package blob

import (
	memorystore "scrubnotes/internal/infra/blob/memory"
)

// NewMemory returns an in-memory blob.Store whose public URLs start with publicBase.
func NewMemory(publicBase string) Store { return memorystore.New(publicBase) }
