// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ads1220 drives a bank of Texas Instruments ADS1220 24-bit
// delta-sigma converters sharing one SPI bus, one chip per group of four
// grid columns. Chip select is a dedicated GPIO per chip, asserted (LOW)
// around every command or register transaction.
package ads1220

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// SPI commands.
const (
	CmdReset     = 0x06
	CmdStartSync = 0x08
	CmdPowerDown = 0x02
	CmdRData     = 0x10
	CmdRReg      = 0x20 // OR with register<<2
	CmdWReg      = 0x40 // OR with register<<2
)

// Configuration register addresses.
const (
	Reg0 = 0x00
	Reg1 = 0x01
	Reg2 = 0x02
	Reg3 = 0x03
)

// Register 0: MUX[3:0] | GAIN[2:0] | PGA_BYPASS.
const (
	Gain1     = 0x00
	PGABypass = 0x01 // required for near-rail single-ended inputs
)

// Register 1: DR[2:0] | MODE[1:0] | CM | TS | BCS.
const (
	DR1000SPS = 0xC0
	ModeTurbo = 0x10
	CMSingle  = 0x00
)

// Register 2: VREF[1:0] | 50/60[1:0] | PSW | IDAC[2:0].
const (
	VRefAVDD = 0x80
)

// ChannelsPerChip is the number of single-ended inputs per converter.
const ChannelsPerChip = 4

// channelMux holds the REG0 input-mux code for each single-ended channel
// (AINx vs AVSS).
var channelMux = [ChannelsPerChip]byte{0x80, 0x90, 0xA0, 0xB0}

// DefaultConversionWait covers the worst-case single-shot conversion at
// 1000 SPS turbo with margin. A fixed wait substitutes for DRDY polling.
const DefaultConversionWait = 2 * time.Millisecond

// Bank is a group of ADS1220 chips covering all grid columns.
type Bank struct {
	conn  spi.Conn
	cs    []gpio.PinOut
	wait  time.Duration
	sleep func(time.Duration)
}

// NewBank wires a bank on an already-connected SPI bus with one chip-select
// pin per converter. All chips are deselected; call Init before reading.
func NewBank(conn spi.Conn, cs []gpio.PinOut) (*Bank, error) {
	if len(cs) == 0 {
		return nil, fmt.Errorf("ads1220: no chip-select pins")
	}
	b := &Bank{conn: conn, cs: cs, wait: DefaultConversionWait, sleep: time.Sleep}
	for i, p := range cs {
		if p == nil {
			return nil, fmt.Errorf("ads1220: chip %d chip-select pin is nil", i)
		}
		if err := p.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("ads1220: deselect chip %d: %w", i, err)
		}
	}
	return b, nil
}

// SetConversionWait overrides the fixed post-START wait. Tests substitute a
// zero wait; production keeps the data-rate-derived default.
func (b *Bank) SetConversionWait(d time.Duration, sleep func(time.Duration)) {
	b.wait = d
	if sleep != nil {
		b.sleep = sleep
	}
}

// Chips returns the number of converters in the bank.
func (b *Bank) Chips() int {
	return len(b.cs)
}

// Columns returns the number of grid columns the bank serves.
func (b *Bank) Columns() int {
	return len(b.cs) * ChannelsPerChip
}

// Init resets and configures every chip for fast single-shot readings:
// AIN0 vs AVSS, gain 1, PGA bypassed, 1000 SPS turbo single-shot, AVDD
// reference.
func (b *Bank) Init() error {
	for chip := range b.cs {
		if err := b.Reset(chip); err != nil {
			return err
		}
		b.sleep(time.Millisecond)

		regs := [4]byte{
			channelMux[0] | Gain1 | PGABypass,
			DR1000SPS | ModeTurbo | CMSingle,
			VRefAVDD,
			0x00,
		}
		for reg, val := range regs {
			if err := b.writeRegister(chip, reg, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset issues the RESET command to one chip.
func (b *Bank) Reset(chip int) error {
	return b.sendCommand(chip, CmdReset)
}

// SetChannel rewrites REG0 so the chip's input multiplexer routes the given
// single-ended channel, keeping gain and PGA settings.
func (b *Bank) SetChannel(chip, channel int) error {
	if channel < 0 || channel >= ChannelsPerChip {
		return nil
	}
	return b.writeRegister(chip, Reg0, channelMux[channel]|Gain1|PGABypass)
}

// ReadData starts a single-shot conversion on the chip's current channel,
// waits out the conversion, and clocks in the 24-bit result MSB first.
func (b *Bank) ReadData(chip int) (uint32, error) {
	if err := b.sendCommand(chip, CmdStartSync); err != nil {
		return 0, err
	}

	b.sleep(b.wait)

	w := []byte{CmdRData, 0, 0, 0}
	r := make([]byte, len(w))
	if err := b.tx(chip, w, r); err != nil {
		return 0, err
	}
	return uint32(r[1])<<16 | uint32(r[2])<<8 | uint32(r[3]), nil
}

// ReadChannel selects a channel on a chip and reads one sample from it.
func (b *Bank) ReadChannel(chip, channel int) (uint32, error) {
	if err := b.SetChannel(chip, channel); err != nil {
		return 0, err
	}
	return b.ReadData(chip)
}

// ReadAll sweeps chips and channels in column order until dst is full. dst
// may cover fewer columns than the bank provides, since the grid does not
// have to use every channel of the last converter; surplus channels are
// simply never read.
func (b *Bank) ReadAll(dst []uint32) error {
	if len(dst) > b.Columns() {
		return fmt.Errorf("ads1220: destination holds %d values, bank has %d columns", len(dst), b.Columns())
	}
	for i := range dst {
		chip, ch := i/ChannelsPerChip, i%ChannelsPerChip
		v, err := b.ReadChannel(chip, ch)
		if err != nil {
			return fmt.Errorf("ads1220: chip %d channel %d: %w", chip, ch, err)
		}
		dst[i] = v
	}
	return nil
}

// ReadRegister reads back one configuration register.
func (b *Bank) ReadRegister(chip, reg int) (byte, error) {
	w := []byte{byte(CmdRReg | reg<<2), 0}
	r := make([]byte, len(w))
	if err := b.tx(chip, w, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

func (b *Bank) writeRegister(chip, reg int, value byte) error {
	return b.tx(chip, []byte{byte(CmdWReg | reg<<2), value}, nil)
}

func (b *Bank) sendCommand(chip int, cmd byte) error {
	return b.tx(chip, []byte{cmd}, nil)
}

// tx runs one SPI transaction bracketed by the chip's select pin. All other
// chips stay deselected for the whole exchange.
func (b *Bank) tx(chip int, w, r []byte) error {
	if chip < 0 || chip >= len(b.cs) {
		return fmt.Errorf("ads1220: chip index %d out of range", chip)
	}
	cs := b.cs[chip]
	if err := cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("ads1220: assert CS %d: %w", chip, err)
	}
	txErr := b.conn.Tx(w, r)
	if err := cs.Out(gpio.High); err != nil {
		return fmt.Errorf("ads1220: release CS %d: %w", chip, err)
	}
	if txErr != nil {
		return fmt.Errorf("ads1220: chip %d SPI transfer: %w", chip, txErr)
	}
	return nil
}
