// Package models holds static network descriptions: tensor names, input
// dimensions, batch capacity and labels. A description is built once from
// config, validated, and shared read-only with the inference units.
package models

import (
	"fmt"
)

// Config is the yaml shape of one model entry.
type Config struct {
	Name        string   `yaml:"name"`
	Path        string   `yaml:"path"`
	Input       string   `yaml:"input"`
	Outputs     []string `yaml:"outputs"`
	OutputSizes []int    `yaml:"outputSizes"`
	InputWidth  int      `yaml:"inputWidth"`
	InputHeight int      `yaml:"inputHeight"`
	// MaxBatchSize caps how many regions an inference unit may buffer per
	// request. Defaults to 1.
	MaxBatchSize int      `yaml:"maxBatchSize"`
	Labels       []string `yaml:"labels"`
}

// Description implements iface.Model.
type Description struct {
	name        string
	path        string
	inputName   string
	outputNames []string
	outputSizes []int
	inputW      int
	inputH      int
	maxBatch    int
	labels      []string
}

// FromConfig validates the entry and returns the immutable description.
func FromConfig(c Config) (*Description, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("models: missing name")
	}
	if c.Path == "" {
		return nil, fmt.Errorf("models: %s: missing model path", c.Name)
	}
	if c.Input == "" {
		return nil, fmt.Errorf("models: %s: missing input blob name", c.Name)
	}
	if len(c.Outputs) == 0 {
		return nil, fmt.Errorf("models: %s: missing output blob names", c.Name)
	}
	if len(c.OutputSizes) != 0 && len(c.OutputSizes) != len(c.Outputs) {
		return nil, fmt.Errorf("models: %s: %d outputs but %d output sizes",
			c.Name, len(c.Outputs), len(c.OutputSizes))
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return nil, fmt.Errorf("models: %s: invalid input dimensions %dx%d",
			c.Name, c.InputWidth, c.InputHeight)
	}
	maxBatch := c.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 1
	}
	return &Description{
		name:        c.Name,
		path:        c.Path,
		inputName:   c.Input,
		outputNames: append([]string(nil), c.Outputs...),
		outputSizes: append([]int(nil), c.OutputSizes...),
		inputW:      c.InputWidth,
		inputH:      c.InputHeight,
		maxBatch:    maxBatch,
		labels:      append([]string(nil), c.Labels...),
	}, nil
}

func (d *Description) Name() string          { return d.name }
func (d *Description) Path() string          { return d.path }
func (d *Description) InputName() string     { return d.inputName }
func (d *Description) OutputNames() []string { return d.outputNames }
func (d *Description) OutputSizes() []int    { return d.outputSizes }
func (d *Description) InputWidth() int       { return d.inputW }
func (d *Description) InputHeight() int      { return d.inputH }
func (d *Description) MaxBatchSize() int     { return d.maxBatch }
func (d *Description) Labels() []string      { return d.labels }
