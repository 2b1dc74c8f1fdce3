package version

// These are set at build time with -ldflags "-X ...".
var (
	Version   = "v0.0.0-unknown"
	GitCommit = "unknown"
)
