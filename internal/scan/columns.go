package scan

import (
	"fmt"
	"time"

	"github.com/relabs-tech/pressure_grid/internal/ads1220"
	"github.com/relabs-tech/pressure_grid/internal/mux"
)

// ColumnSource acquires one raw sample per column for the currently driven
// row. Implementations own whatever settling or conversion waits their
// hardware needs.
type ColumnSource interface {
	Columns() int
	NativeBits() int
	ReadRow(dst []uint32) error
	// Release returns the column hardware to its inactive state after a
	// full sweep.
	Release() error
}

// converterColumns reads every column from a bank of external 24-bit
// converters, one chip per four columns.
type converterColumns struct {
	bank *ads1220.Bank
}

// NewConverterColumns adapts an ADS1220 bank as a column source.
func NewConverterColumns(bank *ads1220.Bank) ColumnSource {
	return &converterColumns{bank: bank}
}

func (s *converterColumns) Columns() int    { return s.bank.Columns() }
func (s *converterColumns) NativeBits() int { return 24 }

func (s *converterColumns) ReadRow(dst []uint32) error {
	return s.bank.ReadAll(dst)
}

// Release is a no-op: chip select already idles high between transactions.
func (s *converterColumns) Release() error { return nil }

// Converter is the internal analog-to-digital converter contract: start a
// conversion, block until it completes, read the result. Each call may block
// for a bounded, small duration.
type Converter interface {
	StartConversion() error
	PollCompletion() error
	ReadValue() (uint32, error)
}

// MuxedColumns reads every column through a CD4051 tree feeding a single
// converter input. Each column read waits out the analog settling time and
// averages a fixed number of conversions to knock down noise.
type MuxedColumns struct {
	axis       *mux.Axis
	conv       Converter
	bits       int
	oversample int
	settle     time.Duration
	delay      Delayer
}

// NewMuxedColumns wires the mux-tree column source. bits is the converter's
// native width; oversample is the number of averaged reads per column.
func NewMuxedColumns(axis *mux.Axis, conv Converter, bits, oversample int, settle time.Duration, delay Delayer) (*MuxedColumns, error) {
	if conv == nil {
		return nil, fmt.Errorf("muxed columns: converter is nil")
	}
	if bits <= 0 || bits > 32 {
		return nil, fmt.Errorf("muxed columns: invalid converter width %d", bits)
	}
	if oversample <= 0 {
		oversample = 1
	}
	if delay == nil {
		delay = SpinDelayer()
	}
	return &MuxedColumns{
		axis:       axis,
		conv:       conv,
		bits:       bits,
		oversample: oversample,
		settle:     settle,
		delay:      delay,
	}, nil
}

func (s *MuxedColumns) Columns() int    { return s.axis.Lines() }
func (s *MuxedColumns) NativeBits() int { return s.bits }

func (s *MuxedColumns) ReadRow(dst []uint32) error {
	if len(dst) > s.axis.Lines() {
		return fmt.Errorf("muxed columns: %d columns requested, axis has %d", len(dst), s.axis.Lines())
	}
	for col := range dst {
		v, err := s.readColumn(col)
		if err != nil {
			return fmt.Errorf("muxed columns: column %d: %w", col, err)
		}
		dst[col] = v
	}
	return nil
}

func (s *MuxedColumns) readColumn(col int) (uint32, error) {
	if err := s.axis.Select(col); err != nil {
		return 0, err
	}
	s.delay.Delay(s.settle)

	var sum uint64
	for i := 0; i < s.oversample; i++ {
		if err := s.conv.StartConversion(); err != nil {
			return 0, err
		}
		if err := s.conv.PollCompletion(); err != nil {
			return 0, err
		}
		v, err := s.conv.ReadValue()
		if err != nil {
			return 0, err
		}
		sum += uint64(v)
	}
	return uint32(sum / uint64(s.oversample)), nil
}

func (s *MuxedColumns) Release() error {
	return s.axis.DisableAll()
}
