package app

import (
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/pressure_grid/internal/stream"
)

func TestHeatColorRamp(t *testing.T) {
	assert.Equal(t, color.RGBA{A: 0xFF}, heatColor(0, 1000), "no pressure is black")
	assert.Equal(t, color.RGBA{R: 255, G: 255, A: 0xFF}, heatColor(1000, 1000), "full pressure is yellow")
	assert.Equal(t, color.RGBA{A: 0xFF}, heatColor(123, 0), "empty frame stays black")

	mid := heatColor(500, 1000)
	assert.NotZero(t, mid.R, "mid pressure has red")
	assert.NotZero(t, mid.B, "mid pressure still has blue")
}

func TestRenderHeatmapGeometry(t *testing.T) {
	f := &stream.Frame{
		Seq:        7,
		ReceivedAt: time.Unix(1700000000, 0),
		Rows:       2,
		Cols:       3,
		Cells:      [][]uint16{{0, 100, 200}, {300, 400, 500}},
		Max:        500,
		Sum:        1500,
	}

	img := RenderHeatmap(f, 4)
	b := img.Bounds()
	assert.Equal(t, 12, b.Dx())
	assert.Equal(t, 8+captionHeight, b.Dy())

	// The hottest cell renders brighter than the coldest.
	cold := img.RGBAAt(2, 2)
	hot := img.RGBAAt(2*4+2, 1*4+2)
	assert.Equal(t, uint8(0), cold.R)
	assert.Equal(t, uint8(255), hot.R)
}
