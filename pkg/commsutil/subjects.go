package commsutil

import "fmt"

// Default COMMS subjects.
const (
	// SubjectUpdates is the request/reply subject for update resolution and
	// catalog administration.
	SubjectUpdates = "fw.updates.v1"
	// SubjectCatalogEvent receives a message whenever a catalog version is
	// enabled.
	SubjectCatalogEvent = "fw.catalog.published"
)

// BuildCatalogEventSubject builds the granular publication event subject for
// one catalog version.
func BuildCatalogEventSubject(version string) string {
	return fmt.Sprintf("fw.catalog.published.%s", version)
}
