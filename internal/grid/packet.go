package grid

import (
	"fmt"
)

// Binary frame protocol. One packet per completed scan:
//
//	offset      size  field
//	0           2     sync bytes 0xAA 0x55
//	2           N*2   N = rows*cols cells, row-major, little-endian uint16
//	2+N*2       2     checksum: 16-bit sum of all payload bytes, low byte first
//	2+N*2+2     2     terminator '\r' '\n'
const (
	SyncByte1 = 0xAA
	SyncByte2 = 0x55

	headerSize = 2
	footerSize = 4 // checksum + CR LF
)

// PacketSize returns the fixed wire size of a frame for the given geometry.
func PacketSize(rows, cols int) int {
	return headerSize + rows*cols*2 + footerSize
}

// EncodePacket serializes the frame into dst and returns the packet slice.
// dst is reused when it has enough capacity, so the scan loop can encode
// every frame into the same buffer without allocating.
func EncodePacket(dst []byte, f *Frame) []byte {
	size := PacketSize(f.Rows, f.Cols)
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]

	dst[0] = SyncByte1
	dst[1] = SyncByte2

	idx := headerSize
	var checksum uint16
	for r := 0; r < f.Rows; r++ {
		for c := 0; c < f.Cols; c++ {
			v := f.Cells[r][c]
			lo, hi := byte(v), byte(v>>8)
			dst[idx] = lo
			dst[idx+1] = hi
			checksum += uint16(lo) + uint16(hi)
			idx += 2
		}
	}

	dst[idx] = byte(checksum)
	dst[idx+1] = byte(checksum >> 8)
	dst[idx+2] = '\r'
	dst[idx+3] = '\n'
	return dst
}

// DecodePacket validates a full packet and returns its cells row-major.
// It checks the sync bytes, the payload checksum and the terminator.
func DecodePacket(pkt []byte, rows, cols int) ([][]uint16, error) {
	size := PacketSize(rows, cols)
	if len(pkt) != size {
		return nil, fmt.Errorf("packet length %d, want %d", len(pkt), size)
	}
	if pkt[0] != SyncByte1 || pkt[1] != SyncByte2 {
		return nil, fmt.Errorf("bad sync bytes %02x %02x", pkt[0], pkt[1])
	}
	if pkt[size-2] != '\r' || pkt[size-1] != '\n' {
		return nil, fmt.Errorf("bad terminator %02x %02x", pkt[size-2], pkt[size-1])
	}

	payload := pkt[headerSize : size-footerSize]
	var sum uint16
	for _, b := range payload {
		sum += uint16(b)
	}
	got := uint16(pkt[size-4]) | uint16(pkt[size-3])<<8
	if sum != got {
		return nil, fmt.Errorf("checksum mismatch: computed 0x%04x, packet has 0x%04x", sum, got)
	}

	cells := make([][]uint16, rows)
	for r := 0; r < rows; r++ {
		cells[r] = make([]uint16, cols)
		for c := 0; c < cols; c++ {
			i := headerSize + (r*cols+c)*2
			cells[r][c] = uint16(pkt[i]) | uint16(pkt[i+1])<<8
		}
	}
	return cells, nil
}
