package app

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/relabs-tech/pressure_grid/internal/config"
	"github.com/relabs-tech/pressure_grid/internal/stream"
)

const captionHeight = 16

// RunHeatmap subscribes to the MQTT frames topic and writes a heatmap PNG of
// the latest frame to the output directory on a fixed interval.
func RunHeatmap() error {
	var (
		mu        sync.RWMutex
		lastFrame stream.Frame
		haveFrame bool
	)

	cfg := config.Get()

	outDir := cfg.HeatmapOutputDir
	if outDir == "" {
		outDir = "heatmaps"
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", outDir, err)
	}

	clientID := cfg.MQTTClientIDHeatmap
	if clientID == "" {
		clientID = "pressure-grid-heatmap"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("heatmap: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicFrames, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var f stream.Frame
		if err := json.Unmarshal(msg.Payload(), &f); err != nil {
			log.Printf("heatmap: frame unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastFrame = f
		haveFrame = true
		mu.Unlock()
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("heatmap: subscribed to MQTT topic %s, writing to %s", cfg.TopicFrames, outDir)

	intervalMS := cfg.HeatmapIntervalMS
	if intervalMS <= 0 {
		intervalMS = 1000
	}
	ticker := time.NewTicker(time.Duration(intervalMS) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		mu.RLock()
		frame := lastFrame
		ok := haveFrame
		mu.RUnlock()
		if !ok {
			continue
		}

		img := RenderHeatmap(&frame, cfg.HeatmapScale)
		path := filepath.Join(outDir, "latest.png")
		if err := writePNG(path, img); err != nil {
			log.Printf("heatmap: %v", err)
			continue
		}
	}
	return nil
}

// RenderHeatmap draws one frame as a color-mapped image upscaled by the given
// factor, with a caption line underneath.
func RenderHeatmap(f *stream.Frame, scale int) *image.RGBA {
	if scale <= 0 {
		scale = 1
	}

	small := image.NewRGBA(image.Rect(0, 0, f.Cols, f.Rows))
	for r := 0; r < f.Rows; r++ {
		for c := 0; c < f.Cols; c++ {
			small.Set(c, r, heatColor(f.Cells[r][c], f.Max))
		}
	}

	w, h := f.Cols*scale, f.Rows*scale
	out := image.NewRGBA(image.Rect(0, 0, w, h+captionHeight))
	// Nearest neighbour keeps the cell edges crisp.
	draw.NearestNeighbor.Scale(out, image.Rect(0, 0, w, h), small, small.Bounds(), draw.Src, nil)

	draw.Draw(out, image.Rect(0, h, w, h+captionHeight), image.NewUniform(color.Black), image.Point{}, draw.Src)
	drawer := &font.Drawer{
		Dst:  out,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(2, h+captionHeight-4),
	}
	drawer.DrawString(fmt.Sprintf("frame %d  max %d  sum %d  %s",
		f.Seq, f.Max, f.Sum, f.ReceivedAt.Format("15:04:05.000")))

	return out
}

// heatColor maps a pressure value to a black-blue-red-yellow ramp, scaled to
// the frame's own maximum so light touches stay visible.
func heatColor(v, max uint16) color.RGBA {
	if max == 0 {
		return color.RGBA{A: 0xFF}
	}
	t := float64(v) / float64(max)
	switch {
	case t < 1.0/3:
		return color.RGBA{B: uint8(3 * t * 255), A: 0xFF}
	case t < 2.0/3:
		s := 3*t - 1
		return color.RGBA{R: uint8(s * 255), B: uint8((1 - s) * 255), A: 0xFF}
	default:
		s := 3*t - 2
		return color.RGBA{R: 255, G: uint8(s * 255), A: 0xFF}
	}
}

// writePNG writes via a temp file and rename so readers never see a partial
// image.
func writePNG(path string, img image.Image) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}
