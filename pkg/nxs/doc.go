// Package nxs defines the vocabulary shared by every part of the Nexell
// Stream (NXS) pipeline manager.
//
// An NXS pipeline is a chain of hardware video-processing blocks connected
// through a shared data fabric. Each block type is a function [Kind]; a
// concrete block is identified by its kind and instance index. Blocks pass
// data to each other through routing ids (TIDs): a block is programmed with
// the input TID of the block that should receive its output.
//
// # Function Catalog
//
// The catalog lists every kind the SoC provides together with its known
// instance range:
//
//   - Sources and sinks: DMAR, DMAW, VIP clipper/decimator, MIPI CSI, TPGEN
//   - Processing: cropper, scaler, CSC, hue, gamma, FIFO, map converter
//   - Routing: multitap (one input, two outputs), ISP2DISP, DISP2ISP
//   - Composition: MLC bottom and MLC blender layers
//   - Display: DPC and the LVDS, MIPI DSI and HDMI encoders
//
// # Errors
//
// All packages report failures with the sentinel errors of this package so
// callers can classify them with errors.Is regardless of which layer failed.
package nxs
