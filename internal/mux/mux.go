// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mux controls a bank of CD4051/74HC4051 analog multiplexers wired
// as one axis of the sensing grid. Every chip on the axis shares the three
// channel-select lines; each chip has its own active-LOW enable pin, and at
// most one chip is ever enabled so only one grid conductor is connected at
// a time.
package mux

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// ChannelsPerChip is the number of outputs on one CD4051 (Y0-Y7).
const ChannelsPerChip = 8

// Axis is one side (row or column) of the multiplexer tree.
type Axis struct {
	name   string
	enable []gpio.PinOut // one per chip, active LOW
	sel    [3]gpio.PinOut
}

// NewAxis builds an axis from its per-chip enable pins and the shared
// S0/S1/S2 select pins. All chips start disabled with channel 0 selected.
func NewAxis(name string, enable []gpio.PinOut, sel [3]gpio.PinOut) (*Axis, error) {
	if len(enable) == 0 {
		return nil, fmt.Errorf("%s axis: no enable pins", name)
	}
	for i, p := range sel {
		if p == nil {
			return nil, fmt.Errorf("%s axis: select pin S%d is nil", name, i)
		}
	}
	a := &Axis{name: name, enable: enable, sel: sel}
	if err := a.DisableAll(); err != nil {
		return nil, err
	}
	if err := a.setChannel(0); err != nil {
		return nil, err
	}
	return a, nil
}

// Lines returns how many grid conductors the axis can address.
func (a *Axis) Lines() int {
	return len(a.enable) * ChannelsPerChip
}

// Select routes conductor index through the axis: chip index/8 is exclusively
// enabled and the shared select bus is set to index%8. An out-of-range index
// is a defensive no-op leaving all pins untouched.
func (a *Axis) Select(index int) error {
	if index < 0 || index >= a.Lines() {
		return nil
	}

	chip := index / ChannelsPerChip
	channel := index % ChannelsPerChip

	// Select bits first, then enable, so the chip never briefly routes the
	// previously selected channel.
	if err := a.setChannel(channel); err != nil {
		return err
	}
	return a.enableChip(chip)
}

// DisableAll forces every chip on the axis into its high-impedance state.
func (a *Axis) DisableAll() error {
	for i, p := range a.enable {
		if err := p.Out(gpio.High); err != nil {
			return fmt.Errorf("%s axis: disable chip %d: %w", a.name, i, err)
		}
	}
	return nil
}

// enableChip asserts exactly one enable pin. Disabling everything first
// guarantees two chips never drive the axis at once.
func (a *Axis) enableChip(chip int) error {
	if err := a.DisableAll(); err != nil {
		return err
	}
	if err := a.enable[chip].Out(gpio.Low); err != nil {
		return fmt.Errorf("%s axis: enable chip %d: %w", a.name, chip, err)
	}
	return nil
}

// setChannel writes the 3-bit channel code onto the shared select bus.
func (a *Axis) setChannel(channel int) error {
	for bit, p := range a.sel {
		level := gpio.Low
		if channel&(1<<bit) != 0 {
			level = gpio.High
		}
		if err := p.Out(level); err != nil {
			return fmt.Errorf("%s axis: select bit S%d: %w", a.name, bit, err)
		}
	}
	return nil
}
