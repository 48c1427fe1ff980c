package app

import (
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/pressure_grid/internal/config"
	"github.com/relabs-tech/pressure_grid/internal/stream"
)

// RunReader opens the scanner's serial link, decodes frame packets, and
// publishes each frame as JSON to the MQTT frames topic.
func RunReader() error {
	cfg := config.Get()

	clientID := cfg.MQTTClientIDReader
	if clientID == "" {
		clientID = "pressure-grid-reader"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("reader: connected to MQTT broker at %s", cfg.MQTTBroker)

	port, err := serial.Open(serial.OpenOptions{
		PortName:        cfg.SerialPort,
		BaudRate:        uint(cfg.SerialBaud),
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 1,
	})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", cfg.SerialPort, err)
	}
	defer port.Close()
	log.Printf("reader: serial port opened on %s at %d baud", cfg.SerialPort, cfg.SerialBaud)

	decoder, err := stream.NewDecoder(port, cfg.GridRows, cfg.GridCols)
	if err != nil {
		return err
	}

	statsEvery := uint64(cfg.StatsLogInterval)
	if statsEvery == 0 {
		statsEvery = 100
	}

	for {
		frame, err := decoder.Next()
		if err != nil {
			stats := decoder.Stats()
			log.Printf("reader: serial link lost after %d frames (%d checksum errors): %v",
				stats.Frames, stats.ChecksumErrors, err)
			return fmt.Errorf("read serial port %s: %w", cfg.SerialPort, err)
		}

		payload, err := json.Marshal(frame)
		if err != nil {
			log.Printf("reader: frame %d marshal error: %v", frame.Seq, err)
			continue
		}

		token := client.Publish(cfg.TopicFrames, 0, false, payload)
		token.Wait()
		if token.Error() != nil {
			log.Printf("reader: frame %d publish error: %v", frame.Seq, token.Error())
			continue
		}

		if frame.Seq%statsEvery == 0 {
			stats := decoder.Stats()
			log.Printf("reader: frame %d: max %d, sum %d (%d checksum errors, %d resyncs, %d bytes skipped)",
				frame.Seq, frame.Max, frame.Sum, stats.ChecksumErrors, stats.Resyncs, stats.SkippedBytes)
		}
	}
}
