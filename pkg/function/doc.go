// Package function builds and drives function graphs: ordered pipelines of
// claimed nodes wired through the routing fabric.
//
// A Function moves through a fixed lifecycle:
//
//	Built -> Connected -> Started -> Stopped -> Disconnected -> Freed
//
// Build claims every element through a [Claimer] and either produces a
// complete graph or releases everything it took. Connect programs each
// node's output routing id to the next node's input port. Start opens and
// starts nodes in request order and unwinds completely when any node fails.
// Stop, Disconnect and Destroy are best-effort: per-node failures are logged
// and teardown continues.
package function
