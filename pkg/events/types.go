// Package events defines event types and publisher interfaces for catalog
// publication events.
package events

// CatalogPublishedEvent is emitted when a catalog version becomes active.
type CatalogPublishedEvent struct {
	// Version is the content-derived token of the newly active catalog.
	Version string `json:"version"`
	// Previous is the token of the version that was active before, if any.
	Previous string `json:"previous,omitempty"`
	// FileCount is the number of definition files in the catalog.
	FileCount int    `json:"fileCount"`
	Timestamp string `json:"timestamp"`
}
