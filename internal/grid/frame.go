// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package grid holds the data model shared by the scanning engine and the
// host-side tooling: the frame matrix, the engine state machine, the raw
// sample processing pipeline, and the binary packet codec.
package grid

import (
	"fmt"
	"time"
)

// State describes what the scanning engine is currently doing. Exactly one
// of the non-idle states is ever active at a time.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateTransmitting
	StateCalibrating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateTransmitting:
		return "transmitting"
	case StateCalibrating:
		return "calibrating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the engine's explicit state machine. Transitions assert the
// expected prior state, so an out-of-order call fails at the call site
// instead of silently corrupting the scan sequence.
type Status struct {
	state State
}

// Current returns the active state.
func (st *Status) Current() State {
	return st.state
}

// Transition moves the machine from one state to the next. It errors if the
// machine is not in the expected prior state.
func (st *Status) Transition(from, to State) error {
	if st.state != from {
		return fmt.Errorf("state transition %s->%s: engine is %s", from, to, st.state)
	}
	st.state = to
	return nil
}

// Frame is one complete matrix of processed pressure values plus scan
// metadata. It is owned by the scan loop; the encoder only reads it.
type Frame struct {
	Rows, Cols int
	Cells      [][]uint16
	Seq        uint32
	ScannedAt  time.Time
}

// NewFrame allocates a zeroed rows x cols frame.
func NewFrame(rows, cols int) (*Frame, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid grid dimensions %dx%d", rows, cols)
	}
	cells := make([][]uint16, rows)
	for r := range cells {
		cells[r] = make([]uint16, cols)
	}
	return &Frame{Rows: rows, Cols: cols, Cells: cells}, nil
}

// Nodes returns the number of sensing points in the frame.
func (f *Frame) Nodes() int {
	return f.Rows * f.Cols
}
