package grid

// Processing converts a raw converter sample into a 16-bit pressure value.
//
// Pressed nodes conduct better, so a pressed node reads BELOW its resting
// value: with a baseline installed the pressure is baseline-raw clamped at
// zero, without one it is the plain full-scale inversion. Results under the
// noise floor are forced to zero, then the value is narrowed to 16 bits by a
// truncating right shift when the converter is wider than the wire format.
type Processing struct {
	MaxRaw         uint32 // converter full-scale value
	NoiseThreshold uint32 // anything below this is treated as noise
	ScaleShift     uint   // right shift from native width to 16 bits
}

// ProcessingFor builds the pipeline for a converter of the given native bit
// width. Widths of 16 bits or less pass through unshifted.
func ProcessingFor(nativeBits int, noiseThreshold uint32) Processing {
	shift := 0
	if nativeBits > 16 {
		shift = nativeBits - 16
	}
	return Processing{
		MaxRaw:         uint32(1)<<uint(nativeBits) - 1,
		NoiseThreshold: noiseThreshold,
		ScaleShift:     uint(shift),
	}
}

// Pressure maps one raw sample to its transmitted pressure value. baseline
// is ignored unless calibrated is true.
func (p Processing) Pressure(raw, baseline uint32, calibrated bool) uint16 {
	var pressure uint32
	if calibrated {
		if diff := int64(baseline) - int64(raw); diff > 0 {
			pressure = uint32(diff)
		}
	} else if raw < p.MaxRaw {
		pressure = p.MaxRaw - raw
	}

	if pressure < p.NoiseThreshold {
		pressure = 0
	}

	return uint16(pressure >> p.ScaleShift)
}
