// Package buildinfo holds the version string stamped into the manager,
// worker, and operator CLI binaries via -ldflags at release build time.
package buildinfo

// Version is overridden at build time with:
//
//	go build -ldflags "-X clusterkit/internal/buildinfo.Version=v1.2.3"
var Version = "dev"
