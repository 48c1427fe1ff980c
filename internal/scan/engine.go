// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package scan is the grid scanning engine: it sweeps every row/column node,
// turns raw converter samples into pressure values, and streams each
// completed frame over the serial link as one binary packet.
package scan

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/relabs-tech/pressure_grid/internal/grid"
)

// DefaultCalibrationPasses is how many full sweeps the baseline average
// uses when the configuration does not say otherwise.
const DefaultCalibrationPasses = 4

// Config carries the engine parameters shared by all grid variants.
type Config struct {
	Rows, Cols int

	// NoiseThreshold zeroes pressure readings below the sensor noise floor,
	// in raw converter counts.
	NoiseThreshold uint32

	// CalibrationPasses is the number of averaged sweeps per calibration.
	CalibrationPasses int

	// RowSettle is the wait between driving a row and reading its columns.
	RowSettle time.Duration

	// StatsInterval logs loop timing every N frames. 0 disables.
	StatsInterval int

	// Clock and Delay default to the system clock and the busy-wait
	// delayer; tests substitute zero-latency fakes.
	Clock Clock
	Delay Delayer
}

// Engine owns the frame buffer, the baseline and the scan state machine.
// It is single-threaded by construction: one logical operation (a selection,
// a converter transaction, a packet write) is outstanding at any time, so no
// locking is needed or used.
type Engine struct {
	cfg  Config
	rows RowDriver
	cols ColumnSource
	out  io.Writer

	proc       grid.Processing
	frame      *grid.Frame
	baseline   [][]uint32
	calibrated bool
	status     grid.Status

	packet []byte
	rowBuf []uint32
}

// New validates the configuration against the hardware capabilities and
// builds an idle engine. The serial link is any blocking writer.
func New(cfg Config, rows RowDriver, cols ColumnSource, out io.Writer) (*Engine, error) {
	if rows == nil || cols == nil || out == nil {
		return nil, fmt.Errorf("engine: row driver, column source and output are all required")
	}
	if rows.Rows() < cfg.Rows {
		return nil, fmt.Errorf("engine: %d rows configured, driver addresses %d", cfg.Rows, rows.Rows())
	}
	if cols.Columns() < cfg.Cols {
		return nil, fmt.Errorf("engine: %d columns configured, source reads %d", cfg.Cols, cols.Columns())
	}
	if cfg.CalibrationPasses <= 0 {
		cfg.CalibrationPasses = DefaultCalibrationPasses
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Delay == nil {
		cfg.Delay = SpinDelayer()
	}

	frame, err := grid.NewFrame(cfg.Rows, cfg.Cols)
	if err != nil {
		return nil, err
	}
	baseline := make([][]uint32, cfg.Rows)
	for r := range baseline {
		baseline[r] = make([]uint32, cfg.Cols)
	}

	return &Engine{
		cfg:      cfg,
		rows:     rows,
		cols:     cols,
		out:      out,
		proc:     grid.ProcessingFor(cols.NativeBits(), cfg.NoiseThreshold),
		frame:    frame,
		baseline: baseline,
		rowBuf:   make([]uint32, cols.Columns()),
		packet:   make([]byte, grid.PacketSize(cfg.Rows, cfg.Cols)),
	}, nil
}

// Frame exposes the engine's frame buffer. Callers must not write to it.
func (e *Engine) Frame() *grid.Frame {
	return e.frame
}

// State reports what the engine is doing right now.
func (e *Engine) State() grid.State {
	return e.status.Current()
}

// Calibrated reports whether a baseline has been installed.
func (e *Engine) Calibrated() bool {
	return e.calibrated
}

// BaselineAt returns one node's resting reference value.
func (e *Engine) BaselineAt(row, col int) uint32 {
	return e.baseline[row][col]
}

// Calibrate installs a fresh per-node baseline by averaging several sweeps
// with no pressure applied. The no-pressure precondition is an operational
// contract: the engine cannot verify it, and a loaded calibration silently
// corrupts every subsequent frame until recalibration.
func (e *Engine) Calibrate() error {
	if err := e.status.Transition(grid.StateIdle, grid.StateCalibrating); err != nil {
		return err
	}

	for r := range e.baseline {
		for c := range e.baseline[r] {
			e.baseline[r][c] = 0
		}
	}

	passes := e.cfg.CalibrationPasses
	for pass := 0; pass < passes; pass++ {
		for row := 0; row < e.cfg.Rows; row++ {
			e.sweepRow(row)
			for col := 0; col < e.cfg.Cols; col++ {
				e.baseline[row][col] += e.rowBuf[col]
			}
		}
	}

	for r := range e.baseline {
		for c := range e.baseline[r] {
			e.baseline[r][c] /= uint32(passes)
		}
	}

	e.quiesce()
	e.calibrated = true
	return e.status.Transition(grid.StateCalibrating, grid.StateIdle)
}

// ScanMatrix performs one full sweep of the grid into the frame buffer,
// then stamps the frame. The matrix is fully overwritten before the frame
// counter moves.
func (e *Engine) ScanMatrix() error {
	if err := e.status.Transition(grid.StateIdle, grid.StateScanning); err != nil {
		return err
	}

	for row := 0; row < e.cfg.Rows; row++ {
		e.sweepRow(row)
		for col := 0; col < e.cfg.Cols; col++ {
			e.frame.Cells[row][col] = e.proc.Pressure(e.rowBuf[col], e.baseline[row][col], e.calibrated)
		}
	}

	e.quiesce()
	e.frame.Seq++
	e.frame.ScannedAt = e.cfg.Clock.Now()
	return e.status.Transition(grid.StateScanning, grid.StateIdle)
}

// sweepRow drives one row and acquires all of its columns into rowBuf.
// Acquisition faults are not surfaced: the row reads as zero and the scan
// carries on, matching the link's fire-and-forget posture.
func (e *Engine) sweepRow(row int) {
	if err := e.rows.Select(row); err != nil {
		log.Printf("scan: select row %d: %v", row, err)
	}
	if err := e.rows.Drive(true); err != nil {
		log.Printf("scan: drive row %d: %v", row, err)
	}
	e.cfg.Delay.Delay(e.cfg.RowSettle)

	if err := e.cols.ReadRow(e.rowBuf[:e.cfg.Cols]); err != nil {
		log.Printf("scan: row %d acquisition: %v", row, err)
		for i := range e.rowBuf {
			e.rowBuf[i] = 0
		}
	}

	if err := e.rows.Drive(false); err != nil {
		log.Printf("scan: release row %d: %v", row, err)
	}
}

// quiesce returns all addressing hardware to its inactive state.
func (e *Engine) quiesce() {
	if err := e.rows.DisableAll(); err != nil {
		log.Printf("scan: disable rows: %v", err)
	}
	if err := e.cols.Release(); err != nil {
		log.Printf("scan: release columns: %v", err)
	}
}

// Transmit serializes the frame buffer and writes the packet to the link in
// one blocking transfer.
func (e *Engine) Transmit() error {
	if err := e.status.Transition(grid.StateIdle, grid.StateTransmitting); err != nil {
		return err
	}

	e.packet = grid.EncodePacket(e.packet, e.frame)
	if _, err := e.out.Write(e.packet); err != nil {
		// Leave the machine consistent before surfacing the link failure.
		_ = e.status.Transition(grid.StateTransmitting, grid.StateIdle)
		return fmt.Errorf("transmit frame %d: %w", e.frame.Seq, err)
	}

	return e.status.Transition(grid.StateTransmitting, grid.StateIdle)
}

// Run repeats scan-then-transmit until the context is cancelled. One full
// cycle is the natural pacing; there is no inter-iteration delay.
func (e *Engine) Run(ctx context.Context) error {
	log.Printf("scan: loop started: %dx%d grid, %d-bit converter, %d-byte packets",
		e.cfg.Rows, e.cfg.Cols, e.cols.NativeBits(), len(e.packet))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		scanStart := time.Now()
		if err := e.ScanMatrix(); err != nil {
			return err
		}
		scanDur := time.Since(scanStart)

		txStart := time.Now()
		if err := e.Transmit(); err != nil {
			return err
		}

		if n := e.cfg.StatsInterval; n > 0 && e.frame.Seq%uint32(n) == 0 {
			log.Printf("scan: frame %d: scan %v, transmit %v",
				e.frame.Seq, scanDur.Round(time.Microsecond), time.Since(txStart).Round(time.Microsecond))
		}
	}
}
