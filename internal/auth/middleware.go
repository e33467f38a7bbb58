package auth

// DebugBuild reports whether this binary was built with the debug build
// tag, the first of the two gates spec.md §4.6 zone 3 requires. The
// second, MAPFLOW_TEST_MODE=1, is checked at the call site against
// config.Config.TestMode.
func DebugBuild() bool { return debugBuild }
