// Package internal provides internal utilities and the build version.
package internal

// Version is the build version, overridden at build time with -ldflags.
var Version = "dev"
