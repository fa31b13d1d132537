//go:build nxsdebug

package resource

// debugAssertions turns claim underflow into a panic.
const debugAssertions = true
