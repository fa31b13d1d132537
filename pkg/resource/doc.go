// Package resource implements the NXS resource manager: the process-wide
// registry of nodes, the claims handed out on them, the functions built
// from them and the displays functions are composited onto.
//
// Lock order is functions, then displays, then nodes. No registry lock is
// held while a driver runs, with the exception of the node claim lock,
// which only guards counter updates.
package resource
