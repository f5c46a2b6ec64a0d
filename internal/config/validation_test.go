package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/rowfarm/pkg/types"
)

func TestValidateDimensions(t *testing.T) {
	tests := []struct {
		name   string
		height int
		width  int
	}{
		{"zero height", 0, 10},
		{"zero width", 10, 0},
		{"negative", -4, -4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Job.Height = tt.height
			cfg.Job.Width = tt.width

			err := Validate(cfg)
			require.Error(t, err)

			var dimErr *types.InvalidDimensionsError
			require.True(t, errors.As(err, &dimErr))
			assert.Equal(t, tt.height, dimErr.Height)
			assert.Equal(t, tt.width, dimErr.Width)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Run.Workers = 0
	cfg.Run.Transport = "carrier-pigeon"
	cfg.Logging.Level = "loud"

	err := Validate(cfg)
	require.Error(t, err)

	var errs ValidationErrors
	require.True(t, errors.As(err, &errs))
	assert.Len(t, errs, 3)
	assert.Contains(t, err.Error(), "run.workers")
	assert.Contains(t, err.Error(), "run.transport")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidateTransportSections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Run.Transport = TransportWS
	cfg.Coordinator.Listen = "not-an-address"
	cfg.Coordinator.URL = "ftp://host"
	assert.Error(t, Validate(cfg))

	cfg = DefaultConfig()
	cfg.Run.Transport = TransportRedis
	cfg.Redis.KeyPrefix = ""
	assert.Error(t, Validate(cfg))

	// sections of unused transports are ignored
	cfg = DefaultConfig()
	cfg.Redis.Addr = ""
	cfg.Coordinator.Listen = ""
	assert.NoError(t, Validate(cfg))
}

func TestValidateScriptKernel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Job.Kernel = "script"
	assert.Error(t, Validate(cfg))

	cfg.Job.ScriptPath = "kernel.js"
	assert.NoError(t, Validate(cfg))
}

func TestValidatePlane(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Job.Plane.MinX = 1
	cfg.Job.Plane.MaxX = -1
	assert.Error(t, Validate(cfg))
}

func TestValidateFileLogging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "file"
	assert.Error(t, Validate(cfg))

	cfg.Logging.FilePath = "/tmp/rowfarm.log"
	assert.NoError(t, Validate(cfg))
}
