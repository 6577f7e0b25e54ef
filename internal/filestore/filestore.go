package filestore

import (
	"io"
)

// FileStore stores and retrieves uploaded files by their assigned id.
type FileStore interface {
	// Save stores the file content under the given id. Saving the same
	// id twice is idempotent.
	Save(r io.Reader, id string) error

	// Get retrieves the file content for the given id.
	Get(id string) (io.ReadCloser, error)
}
