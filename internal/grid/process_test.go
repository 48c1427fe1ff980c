package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessingFor(t *testing.T) {
	p24 := ProcessingFor(24, 5000)
	assert.Equal(t, uint32(0xFFFFFF), p24.MaxRaw)
	assert.Equal(t, uint(8), p24.ScaleShift)

	p12 := ProcessingFor(12, 50)
	assert.Equal(t, uint32(4095), p12.MaxRaw)
	assert.Equal(t, uint(0), p12.ScaleShift)
}

func TestPressureInversionFallback(t *testing.T) {
	// No baseline installed: lower raw reading means more pressure.
	p := ProcessingFor(12, 0)

	assert.Equal(t, uint16(0), p.Pressure(4095, 0, false))
	assert.Equal(t, uint16(4095), p.Pressure(0, 0, false))
	assert.Equal(t, uint16(95), p.Pressure(4000, 0, false))
}

func TestPressureBaselineSubtraction(t *testing.T) {
	tests := []struct {
		name      string
		baseline  uint32
		raw       uint32
		threshold uint32
		want      uint16
	}{
		{name: "raw above baseline clamps to zero", baseline: 1000, raw: 1200, threshold: 0, want: 0},
		{name: "raw below baseline", baseline: 1000, raw: 900, threshold: 50, want: 100},
		{name: "difference under noise floor", baseline: 1000, raw: 970, threshold: 50, want: 0},
		{name: "difference at noise floor passes", baseline: 1000, raw: 950, threshold: 50, want: 50},
		{name: "equal reads as zero", baseline: 1000, raw: 1000, threshold: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ProcessingFor(12, tt.threshold)
			assert.Equal(t, tt.want, p.Pressure(tt.raw, tt.baseline, true))
		})
	}
}

func TestPressureRescale24To16(t *testing.T) {
	p := ProcessingFor(24, 0)

	// Truncating shift, no rounding.
	assert.Equal(t, uint16(0x0012), p.Pressure(0xFFFFFF-0x12FF, 0, false))

	// Full-scale difference still fits the output width.
	assert.Equal(t, uint16(0xFFFF), p.Pressure(0, 0xFFFFFF, true))
}

func TestPressureNeverExceedsOutputWidth(t *testing.T) {
	p := ProcessingFor(24, 0)
	for _, raw := range []uint32{0, 1, 0x7FFFFF, 0xFFFFFE, 0xFFFFFF} {
		got := p.Pressure(raw, 0, false)
		assert.LessOrEqual(t, got, uint16(0xFFFF))
	}
}
