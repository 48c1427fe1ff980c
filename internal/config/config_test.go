package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grid_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validGPIOConfig = `# 12x20 bed, direct row pins, external converters
GRID_ROWS=2
GRID_COLS=4

ROW_MODE=gpio
ROW_PINS=GPIO5, GPIO6

COL_MODE=ads1220
SPI_DEVICE=/dev/spidev0.0
SPI_SPEED_KHZ=2000
ADC_CS_PINS=GPIO8

ADC_NOISE_THRESHOLD=5000
ADC_CONVERSION_WAIT_MS=2
CALIBRATION_PASSES=8

SERIAL_PORT=/dev/serial0
SERIAL_BAUD=921600

MQTT_BROKER=tcp://localhost:1883
TOPIC_FRAMES=pressure_grid/frames
`

func TestLoadValidGPIOConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validGPIOConfig))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.GridRows)
	assert.Equal(t, 4, cfg.GridCols)
	assert.Equal(t, RowModeGPIO, cfg.RowMode)
	assert.Equal(t, []string{"GPIO5", "GPIO6"}, cfg.RowPins)
	assert.Equal(t, ColModeADS1220, cfg.ColMode)
	assert.Equal(t, "/dev/spidev0.0", cfg.SPIDevice)
	assert.Equal(t, 2000, cfg.SPISpeedKHz)
	assert.Equal(t, []string{"GPIO8"}, cfg.ADCCSPins)
	assert.Equal(t, 5000, cfg.ADCNoiseThreshold)
	assert.Equal(t, 2, cfg.ADCConversionWaitMS)
	assert.Equal(t, 8, cfg.CalibrationPasses)
	assert.Equal(t, "/dev/serial0", cfg.SerialPort)
	assert.Equal(t, 921600, cfg.SerialBaud)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "pressure_grid/frames", cfg.TopicFrames)
}

func TestLoadValidMuxConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `GRID_ROWS=40
GRID_COLS=40
ROW_MODE=mux
ROW_MUX_ENABLE_PINS=GPIO17,GPIO27,GPIO22,GPIO10,GPIO9
ROW_MUX_SELECT_PINS=GPIO2,GPIO3,GPIO4
ROW_DRIVE_PIN=GPIO11
COL_MODE=muxed
SPI_DEVICE=/dev/spidev0.0
ADC_CS_PINS=GPIO8
COL_MUX_ENABLE_PINS=GPIO5,GPIO6,GPIO13,GPIO19,GPIO26
COL_MUX_SELECT_PINS=GPIO20,GPIO21,GPIO16
ADC_OVERSAMPLE=4
ROW_SETTLE_US=5
COL_SETTLE_US=2
SERIAL_PORT=/dev/serial0
SERIAL_BAUD=921600
MQTT_BROKER=tcp://localhost:1883
TOPIC_FRAMES=pressure_grid/frames
`))
	require.NoError(t, err)

	assert.Equal(t, RowModeMux, cfg.RowMode)
	assert.Len(t, cfg.RowMuxEnablePins, 5)
	assert.Equal(t, []string{"GPIO2", "GPIO3", "GPIO4"}, cfg.RowMuxSelectPins)
	assert.Equal(t, "GPIO11", cfg.RowDrivePin)
	assert.Equal(t, ColModeMuxed, cfg.ColMode)
	assert.Equal(t, 4, cfg.ADCOversample)
	assert.Equal(t, 5, cfg.RowSettleUS)
	assert.Equal(t, 2, cfg.ColSettleUS)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validGPIOConfig))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.ADCOversample)
	assert.Equal(t, 16, cfg.HeatmapScale)
	assert.Equal(t, 0, cfg.StatsLogInterval)
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown key",
			content: validGPIOConfig + "BOGUS_KEY=1\n",
			wantErr: "unknown config key",
		},
		{
			name:    "bad integer",
			content: validGPIOConfig + "WEB_SERVER_PORT=eighty\n",
			wantErr: "invalid WEB_SERVER_PORT",
		},
		{
			name:    "missing separator",
			content: validGPIOConfig + "SERIAL_PORT /dev/ttyUSB0\n",
			wantErr: "invalid config line",
		},
		{
			name:    "bad row mode",
			content: validGPIOConfig + "ROW_MODE=direct\n",
			wantErr: "ROW_MODE must be",
		},
		{
			name:    "row pin count mismatch",
			content: "GRID_ROWS=12\nGRID_COLS=4\nROW_MODE=gpio\nROW_PINS=GPIO5,GPIO6\nCOL_MODE=ads1220\nSPI_DEVICE=/dev/spidev0.0\nADC_CS_PINS=GPIO8\nSERIAL_PORT=/dev/serial0\nSERIAL_BAUD=921600\nMQTT_BROKER=tcp://x:1883\nTOPIC_FRAMES=t\n",
			wantErr: "ROW_PINS has 2 pins",
		},
		{
			name:    "not enough converters",
			content: "GRID_ROWS=2\nGRID_COLS=20\nROW_MODE=gpio\nROW_PINS=GPIO5,GPIO6\nCOL_MODE=ads1220\nSPI_DEVICE=/dev/spidev0.0\nADC_CS_PINS=GPIO8,GPIO7\nSERIAL_PORT=/dev/serial0\nSERIAL_BAUD=921600\nMQTT_BROKER=tcp://x:1883\nTOPIC_FRAMES=t\n",
			wantErr: "ADC_CS_PINS",
		},
		{
			name:    "missing serial port",
			content: "GRID_ROWS=2\nGRID_COLS=4\nROW_MODE=gpio\nROW_PINS=GPIO5,GPIO6\nCOL_MODE=ads1220\nSPI_DEVICE=/dev/spidev0.0\nADC_CS_PINS=GPIO8\nSERIAL_BAUD=921600\nMQTT_BROKER=tcp://x:1883\nTOPIC_FRAMES=t\n",
			wantErr: "SERIAL_PORT is required",
		},
		{
			name:    "missing broker",
			content: "GRID_ROWS=2\nGRID_COLS=4\nROW_MODE=gpio\nROW_PINS=GPIO5,GPIO6\nCOL_MODE=ads1220\nSPI_DEVICE=/dev/spidev0.0\nADC_CS_PINS=GPIO8\nSERIAL_PORT=/dev/serial0\nSERIAL_BAUD=921600\nTOPIC_FRAMES=t\n",
			wantErr: "MQTT_BROKER is required",
		},
		{
			name:    "zero calibration passes",
			content: validGPIOConfig + "CALIBRATION_PASSES=0\n",
			wantErr: "CALIBRATION_PASSES must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorContains(t, err, "failed to open config file")
}
