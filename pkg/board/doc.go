// Package board loads a YAML board description and applies it to a
// resource manager.
//
// A board file lists the blocks present on the SoC with their claim limits
// and interrupt wiring, the displays, and the kernel functions set up at
// boot. It plays the role a device tree plays on real hardware:
//
//	name: s5p6818-evb
//	nodes:
//	  - kind: dmar
//	  - kind: dmaw
//	    irq: 8
//	  - kind: multitap
//	    follow: true
//	displays:
//	  - id: 1
//	    name: lcd
//	    sink: primary
//	functions:
//	  - name: primary
//	    elements: mlc_blending:0,dpc:0,lvds:0
//	    start: true
package board
