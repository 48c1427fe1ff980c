package scan

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/relabs-tech/pressure_grid/internal/mux"
)

// fakeConverter checks the start/poll/read cadence and serves scripted
// values.
type fakeConverter struct {
	values  []uint32
	next    int
	started int
	polled  int
	err     error
}

func (c *fakeConverter) StartConversion() error {
	c.started++
	return c.err
}

func (c *fakeConverter) PollCompletion() error {
	c.polled++
	if c.polled != c.started {
		return errors.New("poll without start")
	}
	return nil
}

func (c *fakeConverter) ReadValue() (uint32, error) {
	if c.next >= len(c.values) {
		return 0, errors.New("no more samples scripted")
	}
	v := c.values[c.next]
	c.next++
	return v, nil
}

func colAxis(t *testing.T, chips int) (*mux.Axis, []*gpiotest.Pin) {
	t.Helper()
	enable := make([]gpio.PinOut, chips)
	enablePins := make([]*gpiotest.Pin, chips)
	for i := range enable {
		p := &gpiotest.Pin{N: fmt.Sprintf("CEN%d", i)}
		enable[i] = p
		enablePins[i] = p
	}
	var sel [3]gpio.PinOut
	for i := range sel {
		sel[i] = &gpiotest.Pin{N: fmt.Sprintf("CS%d", i)}
	}
	axis, err := mux.NewAxis("col", enable, sel)
	require.NoError(t, err)
	return axis, enablePins
}

func TestMuxedColumnsOversampledAverage(t *testing.T) {
	axis, _ := colAxis(t, 1)
	// Two columns, four reads each: averages 110 and 202 (truncated).
	conv := &fakeConverter{values: []uint32{100, 110, 120, 110, 200, 205, 200, 205}}

	src, err := NewMuxedColumns(axis, conv, 12, 4, 0, NopDelayer{})
	require.NoError(t, err)
	assert.Equal(t, 8, src.Columns())
	assert.Equal(t, 12, src.NativeBits())

	dst := make([]uint32, 2)
	require.NoError(t, src.ReadRow(dst))

	assert.Equal(t, uint32(110), dst[0])
	assert.Equal(t, uint32(202), dst[1])
	assert.Equal(t, 8, conv.started)
}

func TestMuxedColumnsSettlesBeforeEachColumn(t *testing.T) {
	axis, _ := colAxis(t, 1)
	conv := &fakeConverter{values: []uint32{1, 2, 3}}

	var waits []time.Duration
	delay := delayFunc(func(d time.Duration) { waits = append(waits, d) })

	src, err := NewMuxedColumns(axis, conv, 12, 1, 2*time.Microsecond, delay)
	require.NoError(t, err)

	require.NoError(t, src.ReadRow(make([]uint32, 3)))
	assert.Equal(t, []time.Duration{2 * time.Microsecond, 2 * time.Microsecond, 2 * time.Microsecond}, waits)
}

func TestMuxedColumnsReleaseDisablesAxis(t *testing.T) {
	axis, enablePins := colAxis(t, 2)
	conv := &fakeConverter{values: []uint32{1}}

	src, err := NewMuxedColumns(axis, conv, 12, 1, 0, NopDelayer{})
	require.NoError(t, err)

	require.NoError(t, src.ReadRow(make([]uint32, 1)))
	require.NoError(t, src.Release())

	for i, p := range enablePins {
		assert.Equal(t, gpio.High, p.L, "chip %d", i)
	}
}

func TestMuxedColumnsConverterFaultPropagates(t *testing.T) {
	axis, _ := colAxis(t, 1)
	conv := &fakeConverter{err: errors.New("converter dead")}

	src, err := NewMuxedColumns(axis, conv, 12, 1, 0, NopDelayer{})
	require.NoError(t, err)

	assert.ErrorContains(t, src.ReadRow(make([]uint32, 1)), "converter dead")
}

func TestNewMuxedColumnsValidation(t *testing.T) {
	axis, _ := colAxis(t, 1)

	_, err := NewMuxedColumns(axis, nil, 12, 1, 0, nil)
	assert.Error(t, err)

	_, err = NewMuxedColumns(axis, &fakeConverter{}, 0, 1, 0, nil)
	assert.Error(t, err)
}

// delayFunc adapts a function to the Delayer interface.
type delayFunc func(time.Duration)

func (f delayFunc) Delay(d time.Duration) { f(d) }
