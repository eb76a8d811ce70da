package blob

import (
	"scrubnotes/internal/infra/blob/fs"
)

// NewFilesystem constructs a filesystem-backed blob.Store rooted at root whose
// public URLs start with publicBase.
func NewFilesystem(root, publicBase string) (Store, error) {
	return fs.New(root, publicBase)
}
