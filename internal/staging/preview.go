package staging

// RawFile is a candidate file as supplied by the environment.
type RawFile struct {
	Name     string
	Size     int64
	MimeType string
	Content  []byte
}

// Handle is a revocable reference to a previewable copy of a file's content.
type Handle struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// IsZero reports whether h refers to nothing.
func (h Handle) IsZero() bool {
	return h.ID == ""
}

// Previewer acquires and releases preview handles.
//
// The store calls Acquire exactly once for each entry it creates and Release
// exactly once when that entry leaves the store. Implementations must be safe
// for concurrent use; several stores may share one Previewer.
type Previewer interface {
	Acquire(f RawFile) (Handle, error)
	Release(h Handle) error
}
