// Package version carries build metadata, set with -ldflags at release time.
package version

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// EngineVersion is stamped into every manifest. Bump it when the on-storage
// layout changes incompatibly.
const EngineVersion = "1.0.0"
