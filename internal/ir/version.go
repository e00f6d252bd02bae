package ir

// Version constants for the catalog schema and engine.
const (
	// CatalogVersion is the version of the persisted definition layout.
	CatalogVersion = "1"

	// EngineVersion is the seqd engine version.
	EngineVersion = "0.1.0"
)
