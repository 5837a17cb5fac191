// Package inferences implements the buffered enqueue/submit/fetch protocol
// that every model family shares, plus the concrete units: face detection,
// head pose, age/gender and emotions.
package inferences

import (
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	iface "VinoInferServer/interface"
	"VinoInferServer/logger"
)

// Inference unit states.
const (
	StateIdle      = 0x0001
	StateBuffering = 0x0002
	StateSubmitted = 0x0003
)

// DefaultFetchTimeout bounds how long FetchResults blocks on the engine.
const DefaultFetchTimeout = 2 * time.Second

// pendingRegion is one buffered (frame, sub-rectangle) pair. The sequence
// number travels with it so a batch whose outputs do not line up with the
// regions it was built from is detected instead of silently misattributed.
type pendingRegion struct {
	seq    int
	frame  gocv.Mat
	region image.Rectangle
}

// base carries the state machine shared by all inference units. It is not
// thread-safe; one logical pipeline goroutine drives a unit per cycle.
type base struct {
	name    string
	eng     iface.Engine
	model   iface.Model
	state   int
	pending []pendingRegion
	nextSeq int
	timeout time.Duration
}

func newBase(name string, eng iface.Engine, timeout time.Duration) base {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return base{name: name, eng: eng, state: StateIdle, timeout: timeout}
}

// loadNetwork binds the model once and verifies the output arity the unit's
// decode logic expects. Arity mismatches are configuration errors and are
// rejected here rather than surfacing as garbage at fetch time.
func (b *base) loadNetwork(m iface.Model, wantOutputs int) error {
	if m == nil {
		return errors.New("nil model")
	}
	if b.model != nil {
		return fmt.Errorf("%s: network already bound to %q", b.name, b.model.Name())
	}
	if got := len(m.OutputNames()); got != wantOutputs {
		return fmt.Errorf("%s: model %q declares %d outputs, unit expects %d",
			b.name, m.Name(), got, wantOutputs)
	}
	b.model = m
	logger.Log().Info("network loaded",
		zap.String("unit", b.name),
		zap.String("model", m.Name()),
		zap.Int("maxBatchSize", m.MaxBatchSize()))
	return nil
}

func (b *base) enqueue(frame gocv.Mat, region image.Rectangle) bool {
	if b.state == StateSubmitted {
		logger.Log().Warn("enqueue while a request is outstanding",
			zap.String("unit", b.name))
		return false
	}
	if b.model == nil {
		return false
	}
	if len(b.pending) >= b.model.MaxBatchSize() {
		return false
	}
	if frame.Empty() || region.Dx() <= 0 || region.Dy() <= 0 {
		return false
	}
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	if !region.In(bounds) {
		// Out-of-bounds crops are rejected, never clamped.
		return false
	}
	b.pending = append(b.pending, pendingRegion{seq: b.nextSeq, frame: frame, region: region})
	b.nextSeq++
	b.state = StateBuffering
	return true
}

// submit hands every buffered region to the engine in enqueue order and
// starts one request. On engine rejection the buffered regions are discarded
// and the unit returns to Idle: the regions hold views into the caller's
// frame, which is only guaranteed alive for the current cycle.
func (b *base) submit() bool {
	if b.state != StateBuffering || len(b.pending) == 0 || b.model == nil {
		return false
	}
	for _, p := range b.pending {
		if err := b.eng.SetInput(b.model.InputName(), p.frame, p.region); err != nil {
			logger.Log().Error("stage input failed",
				zap.String("unit", b.name), zap.Int("seq", p.seq), zap.Error(err))
			b.discardPending()
			return false
		}
	}
	if err := b.eng.StartAsync(); err != nil {
		logger.Log().Error("start request failed",
			zap.String("unit", b.name), zap.Error(err))
		b.discardPending()
		return false
	}
	b.state = StateSubmitted
	return true
}

func (b *base) discardPending() {
	b.pending = nil
	b.state = StateIdle
}

// fetchOutputs waits for the outstanding request and returns the regions it
// was built from together with every named output split per region. The unit
// always returns to Idle: a timeout or engine failure discards the request
// and yields ok=false with no partial data.
func (b *base) fetchOutputs() ([]pendingRegion, map[string][][]float32, bool) {
	if b.state != StateSubmitted {
		return nil, nil, false
	}
	regions := b.pending
	b.pending = nil
	b.state = StateIdle

	if err := b.eng.Wait(b.timeout); err != nil {
		logger.Log().Warn("fetch failed",
			zap.String("unit", b.name), zap.Error(err))
		return nil, nil, false
	}
	outs := make(map[string][][]float32, len(b.model.OutputNames()))
	for _, name := range b.model.OutputNames() {
		vals, err := b.eng.Outputs(name)
		if err != nil {
			logger.Log().Error("read output failed",
				zap.String("unit", b.name), zap.String("output", name), zap.Error(err))
			return nil, nil, false
		}
		if len(vals) != len(regions) {
			logger.Log().Error("output count does not match enqueued regions",
				zap.String("unit", b.name), zap.String("output", name),
				zap.Int("outputs", len(vals)), zap.Int("regions", len(regions)))
			return nil, nil, false
		}
		outs[name] = vals
	}
	return regions, outs, true
}
