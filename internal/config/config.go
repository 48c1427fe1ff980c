package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Row addressing and column acquisition variants. The scanner binary picks
// its hardware drivers from these at startup.
const (
	RowModeGPIO = "gpio"
	RowModeMux  = "mux"

	ColModeADS1220 = "ads1220"
	ColModeMuxed   = "muxed"
)

// Config holds all application configuration values.
type Config struct {
	// Grid geometry
	GridRows int
	GridCols int

	// Row addressing
	RowMode          string   // "gpio" or "mux"
	RowPins          []string // gpio mode: one pin per row
	RowMuxEnablePins []string // mux mode: one active-LOW enable per CD4051
	RowMuxSelectPins []string // mux mode: 3-bit select bus, S0 first
	RowDrivePin      string   // mux mode: the shared row drive line

	// Column acquisition
	ColMode          string   // "ads1220" or "muxed"
	SPIDevice        string   // converter bus
	SPISpeedKHz      int      // converter clock
	ADCCSPins        []string // one chip-select per converter
	ColMuxEnablePins []string // muxed mode: column tree enables
	ColMuxSelectPins []string // muxed mode: 3-bit select bus, S0 first
	ADCOversample    int      // muxed mode: samples averaged per node

	// Processing
	ADCNoiseThreshold int // raw counts below this read as zero
	CalibrationPasses int

	// Timing
	ADCConversionWaitMS int // ADS1220 fixed conversion wait
	RowSettleUS         int
	ColSettleUS         int
	StatsLogInterval    int // scan loop timing log, every N frames; 0 = off

	// Serial link
	SerialPort string
	SerialBaud int

	// MQTT
	MQTTBroker          string
	MQTTClientIDReader  string
	MQTTClientIDWeb     string
	MQTTClientIDHeatmap string
	TopicFrames         string

	// Web Server
	WebServerPort int

	// Heatmap
	HeatmapOutputDir  string
	HeatmapIntervalMS int
	HeatmapScale      int
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported (lowercase) so other packages cannot access it directly.
//     This enforces encapsulation and prevents external code from modifying config without proper locking.
//     Has package-level scope (visible to all functions in this package, persists for program lifetime).
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access. Write lock (Lock) for initialization,
//     read lock (RLock) for Get() allows multiple concurrent readers without blocking each other.
//
// External code must use InitGlobal() to set and Get() to read, ensuring thread safety.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := &Config{
		CalibrationPasses: 4,
		ADCOversample:     4,
		HeatmapScale:      16,
	}
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parsePins splits a comma-separated pin name list.
func parsePins(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	pins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			pins = append(pins, p)
		}
	}
	return pins
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Grid geometry
	case "GRID_ROWS":
		c.GridRows, err = parseInt(key, value)
	case "GRID_COLS":
		c.GridCols, err = parseInt(key, value)

	// Row addressing
	case "ROW_MODE":
		if value != RowModeGPIO && value != RowModeMux {
			return fmt.Errorf("ROW_MODE must be %q or %q, got %q", RowModeGPIO, RowModeMux, value)
		}
		c.RowMode = value
	case "ROW_PINS":
		c.RowPins = parsePins(value)
	case "ROW_MUX_ENABLE_PINS":
		c.RowMuxEnablePins = parsePins(value)
	case "ROW_MUX_SELECT_PINS":
		c.RowMuxSelectPins = parsePins(value)
	case "ROW_DRIVE_PIN":
		c.RowDrivePin = value

	// Column acquisition
	case "COL_MODE":
		if value != ColModeADS1220 && value != ColModeMuxed {
			return fmt.Errorf("COL_MODE must be %q or %q, got %q", ColModeADS1220, ColModeMuxed, value)
		}
		c.ColMode = value
	case "SPI_DEVICE":
		c.SPIDevice = value
	case "SPI_SPEED_KHZ":
		c.SPISpeedKHz, err = parseInt(key, value)
	case "ADC_CS_PINS":
		c.ADCCSPins = parsePins(value)
	case "COL_MUX_ENABLE_PINS":
		c.ColMuxEnablePins = parsePins(value)
	case "COL_MUX_SELECT_PINS":
		c.ColMuxSelectPins = parsePins(value)
	case "ADC_OVERSAMPLE":
		c.ADCOversample, err = parseInt(key, value)

	// Processing
	case "ADC_NOISE_THRESHOLD":
		c.ADCNoiseThreshold, err = parseInt(key, value)
	case "CALIBRATION_PASSES":
		if c.CalibrationPasses, err = parseInt(key, value); err == nil && c.CalibrationPasses <= 0 {
			return fmt.Errorf("CALIBRATION_PASSES must be positive, got %d", c.CalibrationPasses)
		}

	// Timing
	case "ADC_CONVERSION_WAIT_MS":
		c.ADCConversionWaitMS, err = parseInt(key, value)
	case "ROW_SETTLE_US":
		c.RowSettleUS, err = parseInt(key, value)
	case "COL_SETTLE_US":
		c.ColSettleUS, err = parseInt(key, value)
	case "STATS_LOG_INTERVAL":
		c.StatsLogInterval, err = parseInt(key, value)

	// Serial link
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD":
		c.SerialBaud, err = parseInt(key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_READER":
		c.MQTTClientIDReader = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_HEATMAP":
		c.MQTTClientIDHeatmap = value
	case "TOPIC_FRAMES":
		c.TopicFrames = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)

	// Heatmap
	case "HEATMAP_OUTPUT_DIR":
		c.HeatmapOutputDir = value
	case "HEATMAP_INTERVAL_MS":
		c.HeatmapIntervalMS, err = parseInt(key, value)
	case "HEATMAP_SCALE":
		if c.HeatmapScale, err = parseInt(key, value); err == nil && c.HeatmapScale <= 0 {
			return fmt.Errorf("HEATMAP_SCALE must be positive, got %d", c.HeatmapScale)
		}

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set and that the selected
// addressing modes have the pins they need for the configured geometry.
func (c *Config) validate() error {
	if c.GridRows <= 0 {
		return fmt.Errorf("GRID_ROWS is required")
	}
	if c.GridCols <= 0 {
		return fmt.Errorf("GRID_COLS is required")
	}

	switch c.RowMode {
	case RowModeGPIO:
		if len(c.RowPins) != c.GridRows {
			return fmt.Errorf("ROW_PINS has %d pins, GRID_ROWS is %d", len(c.RowPins), c.GridRows)
		}
	case RowModeMux:
		if len(c.RowMuxEnablePins)*8 < c.GridRows {
			return fmt.Errorf("ROW_MUX_ENABLE_PINS: %d chips address %d rows, GRID_ROWS is %d",
				len(c.RowMuxEnablePins), len(c.RowMuxEnablePins)*8, c.GridRows)
		}
		if len(c.RowMuxSelectPins) != 3 {
			return fmt.Errorf("ROW_MUX_SELECT_PINS needs exactly 3 pins, got %d", len(c.RowMuxSelectPins))
		}
		if c.RowDrivePin == "" {
			return fmt.Errorf("ROW_DRIVE_PIN is required for ROW_MODE=%s", RowModeMux)
		}
	default:
		return fmt.Errorf("ROW_MODE is required")
	}

	switch c.ColMode {
	case ColModeADS1220:
		if c.SPIDevice == "" {
			return fmt.Errorf("SPI_DEVICE is required for COL_MODE=%s", ColModeADS1220)
		}
		if len(c.ADCCSPins)*4 < c.GridCols {
			return fmt.Errorf("ADC_CS_PINS: %d converters read %d columns, GRID_COLS is %d",
				len(c.ADCCSPins), len(c.ADCCSPins)*4, c.GridCols)
		}
	case ColModeMuxed:
		if c.SPIDevice == "" {
			return fmt.Errorf("SPI_DEVICE is required for COL_MODE=%s", ColModeMuxed)
		}
		if len(c.ADCCSPins) != 1 {
			return fmt.Errorf("ADC_CS_PINS needs exactly 1 pin for COL_MODE=%s, got %d",
				ColModeMuxed, len(c.ADCCSPins))
		}
		if len(c.ColMuxEnablePins)*8 < c.GridCols {
			return fmt.Errorf("COL_MUX_ENABLE_PINS: %d chips address %d columns, GRID_COLS is %d",
				len(c.ColMuxEnablePins), len(c.ColMuxEnablePins)*8, c.GridCols)
		}
		if len(c.ColMuxSelectPins) != 3 {
			return fmt.Errorf("COL_MUX_SELECT_PINS needs exactly 3 pins, got %d", len(c.ColMuxSelectPins))
		}
	default:
		return fmt.Errorf("COL_MODE is required")
	}

	if c.SerialPort == "" {
		return fmt.Errorf("SERIAL_PORT is required")
	}
	if c.SerialBaud == 0 {
		return fmt.Errorf("SERIAL_BAUD is required")
	}
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicFrames == "" {
		return fmt.Errorf("TOPIC_FRAMES is required")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
// Acquires write lock (configMu.Lock) during initialization to prevent concurrent access.
// This is the only function that can set globalConfig.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
// Uses read lock (configMu.RLock) to allow multiple concurrent readers without blocking.
// This is thread-safe and efficient for concurrent access across goroutines.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
