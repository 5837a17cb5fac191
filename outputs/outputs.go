// Package outputs provides the sinks inference units push finished result
// collections to.
package outputs

import (
	"image"

	"go.uber.org/zap"

	iface "VinoInferServer/interface"
	"VinoInferServer/logger"
)

// LogOutput writes each result batch to the structured log.
type LogOutput struct {
	log *zap.Logger
}

func NewLogOutput() *LogOutput {
	return &LogOutput{log: logger.Log()}
}

func (o *LogOutput) Accept(source string, results []iface.Result) {
	o.log.Info("inference results",
		zap.String("source", source),
		zap.Int("count", len(results)))
	for i, r := range results {
		o.log.Debug("result",
			zap.String("source", source),
			zap.Int("index", i),
			zap.Any("location", r.Location()))
	}
}

// Batch is one unit's result collection for one cycle.
type Batch struct {
	Source    string
	Locations []image.Rectangle
	Results   []iface.Result
}

// StreamOutput forwards batches to a bounded channel for a consumer such as
// the websocket response loop. When the consumer falls behind, batches are
// dropped rather than blocking the pipeline.
type StreamOutput struct {
	ch chan Batch
}

func NewStreamOutput(buffer int) *StreamOutput {
	if buffer <= 0 {
		buffer = 16
	}
	return &StreamOutput{ch: make(chan Batch, buffer)}
}

func (o *StreamOutput) Accept(source string, results []iface.Result) {
	locs := make([]image.Rectangle, len(results))
	for i, r := range results {
		locs[i] = r.Location()
	}
	batch := Batch{Source: source, Locations: locs, Results: results}
	select {
	case o.ch <- batch:
	default:
		logger.Log().Warn("stream output full, dropping batch",
			zap.String("source", source), zap.Int("count", len(results)))
	}
}

// Batches exposes the consumer side of the stream.
func (o *StreamOutput) Batches() <-chan Batch {
	return o.ch
}
