package fsbackend

import "time"

// FileInfo is the backend's description of one resource: metadata plus
// an in-memory, non-persisted map of dead properties (see DESIGN.md
// Open Question on PROPPATCH persistence).
type FileInfo struct {
	Name       string
	Path       string
	Size       int64
	CreatedAt  time.Time
	ModifiedAt time.Time
	AccessedAt time.Time
	IsDir      bool
	ETag       string
	Properties map[string]string
}
