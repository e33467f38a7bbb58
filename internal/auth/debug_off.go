//go:build !mapflow_debug

package auth

// debugBuild is false in release builds: the debug-only reset route (spec.md
// §4.6 zone 3) is compiled out of the route policy by this flag regardless
// of the runtime test-mode environment variable.
const debugBuild = false
