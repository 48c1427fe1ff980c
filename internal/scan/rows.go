package scan

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"

	"github.com/relabs-tech/pressure_grid/internal/mux"
)

// RowDriver addresses and energizes one grid row at a time. Selecting picks
// the row conductor; Drive actually puts current through it. The two steps
// are separate so the engine controls exactly when the row is hot.
type RowDriver interface {
	Rows() int
	Select(row int) error
	Drive(on bool) error
	DisableAll() error
}

// GPIORowBank drives rows directly, one output pin per row. Used by the
// small-grid boards where every row has its own driver pin.
type GPIORowBank struct {
	pins     []gpio.PinOut
	selected int
}

// NewGPIORowBank builds a bank from per-row pins, all driven low.
func NewGPIORowBank(pins []gpio.PinOut) (*GPIORowBank, error) {
	if len(pins) == 0 {
		return nil, fmt.Errorf("row bank: no row pins")
	}
	b := &GPIORowBank{pins: pins}
	if err := b.DisableAll(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *GPIORowBank) Rows() int {
	return len(b.pins)
}

// Select remembers which row Drive will energize. Out-of-range rows are a
// defensive no-op.
func (b *GPIORowBank) Select(row int) error {
	if row < 0 || row >= len(b.pins) {
		return nil
	}
	b.selected = row
	return nil
}

func (b *GPIORowBank) Drive(on bool) error {
	if !on {
		return b.DisableAll()
	}
	if err := b.DisableAll(); err != nil {
		return err
	}
	if err := b.pins[b.selected].Out(gpio.High); err != nil {
		return fmt.Errorf("row bank: drive row %d: %w", b.selected, err)
	}
	return nil
}

func (b *GPIORowBank) DisableAll() error {
	for i, p := range b.pins {
		if err := p.Out(gpio.Low); err != nil {
			return fmt.Errorf("row bank: release row %d: %w", i, err)
		}
	}
	return nil
}

// MuxRows drives rows through a CD4051 tree: the axis routes a shared drive
// line to one row conductor, and a single drive pin energizes it.
type MuxRows struct {
	axis  *mux.Axis
	drive gpio.PinOut
}

// NewMuxRows builds the mux-tree row driver with the drive line released.
func NewMuxRows(axis *mux.Axis, drive gpio.PinOut) (*MuxRows, error) {
	if drive == nil {
		return nil, fmt.Errorf("mux rows: drive pin is nil")
	}
	m := &MuxRows{axis: axis, drive: drive}
	if err := m.DisableAll(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MuxRows) Rows() int {
	return m.axis.Lines()
}

func (m *MuxRows) Select(row int) error {
	return m.axis.Select(row)
}

func (m *MuxRows) Drive(on bool) error {
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := m.drive.Out(level); err != nil {
		return fmt.Errorf("mux rows: drive line: %w", err)
	}
	return nil
}

func (m *MuxRows) DisableAll() error {
	if err := m.Drive(false); err != nil {
		return err
	}
	return m.axis.DisableAll()
}
