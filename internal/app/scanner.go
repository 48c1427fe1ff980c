// Package app wires configuration and hardware into the runnable programs:
// the device-side scanner and the host-side reader, web viewer and heatmap
// renderer.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/pressure_grid/internal/ads1220"
	"github.com/relabs-tech/pressure_grid/internal/config"
	"github.com/relabs-tech/pressure_grid/internal/mux"
	"github.com/relabs-tech/pressure_grid/internal/scan"
)

// RunScanner initializes the grid hardware from the global configuration and
// runs the scan-transmit loop until interrupted. With calibrate set, a fresh
// baseline is captured first; the bed must be unloaded while that runs.
func RunScanner(calibrate bool) error {
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	rows, err := buildRowDriver(cfg)
	if err != nil {
		return err
	}
	cols, closeSPI, err := buildColumnSource(cfg)
	if err != nil {
		return err
	}
	defer closeSPI()

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
	log.Printf("scanner: serial port opened on %s at %d baud", cfg.SerialPort, cfg.SerialBaud)

	engine, err := scan.New(scan.Config{
		Rows:              cfg.GridRows,
		Cols:              cfg.GridCols,
		NoiseThreshold:    uint32(cfg.ADCNoiseThreshold),
		CalibrationPasses: cfg.CalibrationPasses,
		RowSettle:         time.Duration(cfg.RowSettleUS) * time.Microsecond,
		StatsInterval:     cfg.StatsLogInterval,
	}, rows, cols, port)
	if err != nil {
		return err
	}

	if calibrate {
		log.Printf("scanner: calibrating baseline, %d passes, keep the bed unloaded", cfg.CalibrationPasses)
		if err := engine.Calibrate(); err != nil {
			return fmt.Errorf("calibration: %w", err)
		}
		log.Println("scanner: baseline installed")
	} else {
		log.Println("scanner: running uncalibrated, pressure is inverted raw values")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return engine.Run(ctx)
}

// resolvePins looks every pin name up in the periph GPIO registry.
func resolvePins(names []string) ([]gpio.PinOut, error) {
	pins := make([]gpio.PinOut, len(names))
	for i, name := range names {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("gpio pin %q not found", name)
		}
		pins[i] = p
	}
	return pins, nil
}

func resolveSelectBus(names []string) ([3]gpio.PinOut, error) {
	var sel [3]gpio.PinOut
	pins, err := resolvePins(names)
	if err != nil {
		return sel, err
	}
	copy(sel[:], pins)
	return sel, nil
}

func buildRowDriver(cfg *config.Config) (scan.RowDriver, error) {
	switch cfg.RowMode {
	case config.RowModeGPIO:
		pins, err := resolvePins(cfg.RowPins)
		if err != nil {
			return nil, fmt.Errorf("row pins: %w", err)
		}
		log.Printf("scanner: direct row bank, %d pins", len(pins))
		return scan.NewGPIORowBank(pins)

	case config.RowModeMux:
		enable, err := resolvePins(cfg.RowMuxEnablePins)
		if err != nil {
			return nil, fmt.Errorf("row mux enables: %w", err)
		}
		sel, err := resolveSelectBus(cfg.RowMuxSelectPins)
		if err != nil {
			return nil, fmt.Errorf("row mux select bus: %w", err)
		}
		drive := gpioreg.ByName(cfg.RowDrivePin)
		if drive == nil {
			return nil, fmt.Errorf("row drive pin %q not found", cfg.RowDrivePin)
		}
		axis, err := mux.NewAxis("row", enable, sel)
		if err != nil {
			return nil, err
		}
		log.Printf("scanner: muxed rows, %d chips", len(enable))
		return scan.NewMuxRows(axis, drive)
	}
	return nil, fmt.Errorf("unsupported row mode %q", cfg.RowMode)
}

// buildColumnSource opens the converter SPI bus and builds the acquisition
// side. The returned closer releases the bus.
func buildColumnSource(cfg *config.Config) (scan.ColumnSource, func(), error) {
	port, err := spireg.Open(cfg.SPIDevice)
	if err != nil {
		return nil, nil, fmt.Errorf("open SPI port %s: %w", cfg.SPIDevice, err)
	}
	closer := func() { port.Close() }

	speed := physic.Frequency(cfg.SPISpeedKHz) * physic.KiloHertz
	if speed == 0 {
		speed = 2 * physic.MegaHertz
	}
	conn, err := port.Connect(speed, spi.Mode1, 8)
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("connect SPI port %s: %w", cfg.SPIDevice, err)
	}

	csPins, err := resolvePins(cfg.ADCCSPins)
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("converter CS pins: %w", err)
	}
	bank, err := ads1220.NewBank(conn, csPins)
	if err != nil {
		closer()
		return nil, nil, err
	}
	if cfg.ADCConversionWaitMS > 0 {
		bank.SetConversionWait(time.Duration(cfg.ADCConversionWaitMS)*time.Millisecond, time.Sleep)
	}
	if err := bank.Init(); err != nil {
		closer()
		return nil, nil, fmt.Errorf("converter init: %w", err)
	}

	switch cfg.ColMode {
	case config.ColModeADS1220:
		log.Printf("scanner: %d external converters, %d columns", bank.Chips(), bank.Columns())
		return scan.NewConverterColumns(bank), closer, nil

	case config.ColModeMuxed:
		enable, err := resolvePins(cfg.ColMuxEnablePins)
		if err != nil {
			closer()
			return nil, nil, fmt.Errorf("column mux enables: %w", err)
		}
		sel, err := resolveSelectBus(cfg.ColMuxSelectPins)
		if err != nil {
			closer()
			return nil, nil, fmt.Errorf("column mux select bus: %w", err)
		}
		axis, err := mux.NewAxis("col", enable, sel)
		if err != nil {
			closer()
			return nil, nil, err
		}
		settle := time.Duration(cfg.ColSettleUS) * time.Microsecond
		cols, err := scan.NewMuxedColumns(axis, singleConverter{bank}, 24, cfg.ADCOversample, settle, nil)
		if err != nil {
			closer()
			return nil, nil, err
		}
		log.Printf("scanner: muxed columns, %d chips, x%d oversample", len(enable), cfg.ADCOversample)
		return cols, closer, nil
	}
	closer()
	return nil, nil, fmt.Errorf("unsupported column mode %q", cfg.ColMode)
}

// singleConverter adapts the first chip of an ADS1220 bank to the muxed
// column contract. ReadData already brackets the start command and the
// conversion wait, so the start and poll phases are folded into the read.
type singleConverter struct {
	bank *ads1220.Bank
}

func (c singleConverter) StartConversion() error { return nil }
func (c singleConverter) PollCompletion() error  { return nil }
func (c singleConverter) ReadValue() (uint32, error) {
	return c.bank.ReadData(0)
}
