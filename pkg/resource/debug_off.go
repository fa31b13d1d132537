//go:build !nxsdebug

package resource

const debugAssertions = false
