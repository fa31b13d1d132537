// Package node models one hardware pipeline stage of the NXS fabric.
//
// A [Dev] is created once per physical block and lives for the lifetime of
// the process. It tracks three independent counters:
//
//   - refcount: claims handed out by the resource manager (bounded by
//     MaxRefcount, plus at most one multitap follower)
//   - open count: active sessions; the first open and last close reach the
//     driver
//   - connect count: functions currently routing through the node
//
// Block-specific behaviour lives behind the [Driver] interface. Controls are
// dispatched through a fixed table built from the driver's services; an
// unknown control type is a successful no-op so generic callers can probe
// capabilities.
//
// # Interrupts
//
// Each node may own an [InterruptSource]. Blocks with a usable IRQ line use a
// [LineSource]; blocks without one are polled by a [TimerSource] on a fixed
// period. Either way the registered callbacks run on the source's goroutine
// and never take the node's lifecycle lock.
package node
