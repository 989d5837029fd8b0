// Package publish implements the catalog publication pipeline: ordered
// create/put/enable actions sharing a content-derived version token, applied
// against a catalog store with an atomic cutover at the end.
package publish

// Action tasks.
const (
	TaskCreate = "create"
	TaskPut    = "put"
	TaskEnable = "enable"
)

// Action is one step of a publication.
type Action struct {
	Task string `json:"task"`
	// Filename and Data are set for put actions.
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data,omitempty"`
}

// Payload is one publication request: a batch of actions under a shared
// catalog version token. Large catalogs are split across several payloads
// with the same token; only the last one carries the enable action.
type Payload struct {
	Version string   `json:"version"`
	Actions []Action `json:"actions"`
}

// Result reports what one payload did.
type Result struct {
	Version string `json:"version"`
	// Applied is the number of definition files stored by this payload.
	Applied int `json:"applied"`
	// Enabled is true when this payload activated the version.
	Enabled bool `json:"enabled"`
	// Skipped is true when the token already names the active version and
	// the whole payload was ignored.
	Skipped bool `json:"skipped"`
}
