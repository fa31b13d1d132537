// Package hw simulates the S5Pxx18 stream fabric: a register bank, the
// dirty-flag registers that publish shadow state at vsync, the interrupt
// controller and one driver per processing block.
//
// A Chip wires these together. Its drivers satisfy node.Driver, its
// DirtyFlags satisfy node.DirtySink and its Controller satisfies
// node.LineController, so a resource manager can run against the
// simulation exactly as it would against real blocks.
package hw
