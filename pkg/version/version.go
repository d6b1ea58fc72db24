package version

// Build holds the build identifier, injected via -ldflags. Default "dev".
var Build = "dev"

// LatestClientVersion is the newest node client release the master knows of.
// Nodes announcing an older version get a non-fatal upgrade advisory.
var LatestClientVersion = "1.11.0"
