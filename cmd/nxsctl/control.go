package main

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nxs-stream/nxs-go/pkg/nxs"
)

// parseControl reads a control value written as YAML, e.g.
// "{width: 1920, height: 1080, pixelformat: 0x3231564e}" for a format.
// Status takes a plain number.
func parseControl(ct nxs.ControlType, text string) (nxs.Control, error) {
	ctrl := nxs.Control{Type: ct}

	var target any
	switch ct {
	case nxs.ControlFormat, nxs.ControlDstFormat:
		ctrl.Format = &nxs.Format{}
		target = ctrl.Format
	case nxs.ControlCrop, nxs.ControlSelection:
		ctrl.Rect = &nxs.Rect{}
		target = ctrl.Rect
	case nxs.ControlTPF:
		ctrl.Fraction = &nxs.Fraction{}
		target = ctrl.Fraction
	case nxs.ControlSyncInfo:
		ctrl.SyncInfo = &nxs.SyncInfo{}
		target = ctrl.SyncInfo
	case nxs.ControlGamma:
		ctrl.Gamma = &nxs.GammaTable{}
		target = ctrl.Gamma
	case nxs.ControlTPGen:
		ctrl.TPGen = &nxs.TPGenParams{}
		target = ctrl.TPGen
	case nxs.ControlStatus:
		v, err := strconv.ParseUint(strings.TrimSpace(text), 0, 32)
		if err != nil {
			return ctrl, fmt.Errorf("status: %w", err)
		}
		ctrl.Status = uint32(v)
		return ctrl, nil
	default:
		return ctrl, fmt.Errorf("control %s cannot be set", ct)
	}

	dec := yaml.NewDecoder(strings.NewReader(text))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil {
		return ctrl, fmt.Errorf("%s: %w", ct, err)
	}
	return ctrl, ctrl.Validate()
}

// formatControl renders the payload matching the control type as YAML.
func formatControl(ctrl nxs.Control) (string, error) {
	var v any
	switch ctrl.Type {
	case nxs.ControlFormat, nxs.ControlDstFormat:
		v = ctrl.Format
	case nxs.ControlCrop, nxs.ControlSelection:
		v = ctrl.Rect
	case nxs.ControlTPF:
		v = ctrl.Fraction
	case nxs.ControlSyncInfo:
		v = ctrl.SyncInfo
	case nxs.ControlGamma:
		v = ctrl.Gamma
	case nxs.ControlTPGen:
		v = ctrl.TPGen
	default:
		return fmt.Sprintf("%s: %d\n", ctrl.Type, ctrl.Status), nil
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
