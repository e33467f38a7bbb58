//go:build mapflow_debug

package auth

// debugBuild is true only in builds tagged mapflow_debug, the build-time
// half of spec.md §4.6 zone 3's two-factor debug gate.
const debugBuild = true
