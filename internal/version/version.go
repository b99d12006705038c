// Package version carries the build version, overridden with -ldflags "-X".
package version

var Version = "dev"
