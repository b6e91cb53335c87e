// Package common contains shared helpers used by all keypool binaries:
// logger setup and build version information.
package common

// PackageName is the service identifier used for logs and metrics.
const PackageName = "keypool-backend"

// Version is set at build time via -ldflags.
var Version = "dev"
