// Package common holds identifiers shared across LQAP binaries.
package common

// PackageName is used as the metrics namespace and in service banners.
const PackageName = "lqap"

// Version is set at build time via -ldflags.
var Version = "dev"
