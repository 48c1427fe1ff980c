// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package stream decodes the scanner's binary frame protocol on the host
// side of the serial link.
package stream

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/relabs-tech/pressure_grid/internal/grid"
)

// Frame is one decoded frame plus reception metadata, in the JSON shape the
// reader publishes and the viewers consume.
type Frame struct {
	Seq        uint64     `json:"seq"`
	ReceivedAt time.Time  `json:"received_at"`
	Rows       int        `json:"rows"`
	Cols       int        `json:"cols"`
	Cells      [][]uint16 `json:"cells"`
	Max        uint16     `json:"max"`
	Sum        uint64     `json:"sum"`
}

// Stats counts the decoder's progress over the lifetime of the link.
type Stats struct {
	Frames         uint64
	ChecksumErrors uint64
	Resyncs        uint64
	SkippedBytes   uint64
}

// Decoder hunts for frame packets in a raw serial byte stream. The link has
// no framing beyond the sync pair and the checksum, so the decoder slides
// over garbage byte by byte and resynchronizes after corrupted frames
// without losing the frame that follows.
type Decoder struct {
	r          io.Reader
	rows, cols int
	pktSize    int
	buf        []byte
	readBuf    []byte
	stats      Stats
	seq        uint64
}

// NewDecoder wraps the serial reader for the given grid geometry.
func NewDecoder(r io.Reader, rows, cols int) (*Decoder, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("decoder: invalid grid dimensions %dx%d", rows, cols)
	}
	size := grid.PacketSize(rows, cols)
	return &Decoder{
		r:       r,
		rows:    rows,
		cols:    cols,
		pktSize: size,
		readBuf: make([]byte, size),
	}, nil
}

// Stats returns the decode counters.
func (d *Decoder) Stats() Stats {
	return d.stats
}

var syncPair = []byte{grid.SyncByte1, grid.SyncByte2}

// Next blocks until one valid frame arrives and returns it. It returns the
// underlying reader's error (io.EOF included) once the stream ends.
func (d *Decoder) Next() (*Frame, error) {
	for {
		if i := bytes.Index(d.buf, syncPair); i >= 0 {
			if i > 0 {
				d.stats.SkippedBytes += uint64(i)
				d.buf = d.buf[i:]
			}
			if len(d.buf) >= d.pktSize {
				if f := d.tryDecode(); f != nil {
					return f, nil
				}
				continue
			}
		} else if len(d.buf) > 0 {
			// Nothing resembling a sync pair; keep only a possible
			// first sync byte at the tail.
			keep := 0
			if d.buf[len(d.buf)-1] == grid.SyncByte1 {
				keep = 1
			}
			d.stats.SkippedBytes += uint64(len(d.buf) - keep)
			d.buf = d.buf[len(d.buf)-keep:]
		}

		n, err := d.r.Read(d.readBuf)
		if n > 0 {
			d.buf = append(d.buf, d.readBuf[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// tryDecode validates the packet at the head of the buffer. On corruption
// it slides one byte past the false sync and keeps hunting, so a valid
// frame overlapping the rejected window is still found.
func (d *Decoder) tryDecode() *Frame {
	cells, err := grid.DecodePacket(d.buf[:d.pktSize], d.rows, d.cols)
	if err != nil {
		d.stats.ChecksumErrors++
		d.stats.Resyncs++
		d.stats.SkippedBytes++
		d.buf = d.buf[1:]
		return nil
	}

	d.buf = d.buf[d.pktSize:]
	d.stats.Frames++
	d.seq++

	f := &Frame{
		Seq:        d.seq,
		ReceivedAt: time.Now(),
		Rows:       d.rows,
		Cols:       d.cols,
		Cells:      cells,
	}
	for _, row := range cells {
		for _, v := range row {
			f.Sum += uint64(v)
			if v > f.Max {
				f.Max = v
			}
		}
	}
	return f
}
