package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Name:         "face-detection-adas-0001",
		Path:         "models/face-detection.onnx",
		Input:        "data",
		Outputs:      []string{"detection_out"},
		OutputSizes:  []int{1400},
		InputWidth:   672,
		InputHeight:  384,
		MaxBatchSize: 4,
		Labels:       []string{"background", "face"},
	}
}

func TestFromConfig(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		desc, err := FromConfig(validConfig())
		assert.NoError(t, err)
		assert.Equal(t, "face-detection-adas-0001", desc.Name())
		assert.Equal(t, "models/face-detection.onnx", desc.Path())
		assert.Equal(t, "data", desc.InputName())
		assert.Equal(t, []string{"detection_out"}, desc.OutputNames())
		assert.Equal(t, []int{1400}, desc.OutputSizes())
		assert.Equal(t, 672, desc.InputWidth())
		assert.Equal(t, 384, desc.InputHeight())
		assert.Equal(t, 4, desc.MaxBatchSize())
		assert.Equal(t, []string{"background", "face"}, desc.Labels())
	})

	t.Run("Missing Name", func(t *testing.T) {
		c := validConfig()
		c.Name = ""
		_, err := FromConfig(c)
		assert.Error(t, err)
	})

	t.Run("Missing Path", func(t *testing.T) {
		c := validConfig()
		c.Path = ""
		_, err := FromConfig(c)
		assert.Error(t, err)
	})

	t.Run("Missing Input", func(t *testing.T) {
		c := validConfig()
		c.Input = ""
		_, err := FromConfig(c)
		assert.Error(t, err)
	})

	t.Run("Missing Outputs", func(t *testing.T) {
		c := validConfig()
		c.Outputs = nil
		_, err := FromConfig(c)
		assert.Error(t, err)
	})

	t.Run("Output Size Count Mismatch", func(t *testing.T) {
		c := validConfig()
		c.OutputSizes = []int{1400, 7}
		_, err := FromConfig(c)
		assert.Error(t, err)
	})

	t.Run("Output Sizes Optional", func(t *testing.T) {
		c := validConfig()
		c.OutputSizes = nil
		desc, err := FromConfig(c)
		assert.NoError(t, err)
		assert.Empty(t, desc.OutputSizes())
	})

	t.Run("Invalid Dimensions", func(t *testing.T) {
		c := validConfig()
		c.InputWidth = 0
		_, err := FromConfig(c)
		assert.Error(t, err)

		c = validConfig()
		c.InputHeight = -1
		_, err = FromConfig(c)
		assert.Error(t, err)
	})

	t.Run("Batch Size Defaults To One", func(t *testing.T) {
		c := validConfig()
		c.MaxBatchSize = 0
		desc, err := FromConfig(c)
		assert.NoError(t, err)
		assert.Equal(t, 1, desc.MaxBatchSize())
	})

	t.Run("Copies Slices", func(t *testing.T) {
		c := validConfig()
		desc, err := FromConfig(c)
		assert.NoError(t, err)
		c.Outputs[0] = "mutated"
		c.Labels[0] = "mutated"
		assert.Equal(t, "detection_out", desc.OutputNames()[0])
		assert.Equal(t, "background", desc.Labels()[0])
	})
}
