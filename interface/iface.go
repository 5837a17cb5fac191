// Package iface holds the contracts shared by every inference unit, engine
// backend and output sink in the pipeline.
package iface

import (
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Result is one decoded detection or attribute set, anchored to a rectangle
// in the coordinate space of the original frame (never the cropped region).
type Result interface {
	Location() image.Rectangle
}

// Output receives a finished result collection for one inference unit.
// Sinks are fire-and-forget per cycle and must not retain the results past
// the call: the unit replaces its buffer on the next fetch.
type Output interface {
	Accept(source string, results []Result)
}

// Model describes one network: tensor names, expected input dimensions and
// batch capacity. A model is bound once to an inference unit and is safe to
// share read-only between units of the same family.
type Model interface {
	Name() string
	Path() string
	InputName() string
	OutputNames() []string
	// OutputSizes is the float32 element count of each output tensor for a
	// single-image request, in OutputNames order. Backends that preallocate
	// output buffers require it; others may ignore it.
	OutputSizes() []int
	InputWidth() int
	InputHeight() int
	MaxBatchSize() int
	Labels() []string
}

// Engine is the execution side of one compiled network on a device.
//
// SetInput stages one frame region for the next request; a failed SetInput
// discards everything staged so far. StartAsync snapshots the staged inputs
// as a single request and returns immediately. Wait blocks until the request
// completes or the timeout elapses. Outputs returns the named output tensor
// split per staged input, in SetInput order; it is only valid after a
// successful Wait and until the next StartAsync.
type Engine interface {
	SetInput(name string, frame gocv.Mat, region image.Rectangle) error
	StartAsync() error
	Wait(timeout time.Duration) error
	Outputs(name string) ([][]float32, error)
	Close() error
}

// Inference is the uniform protocol every concrete inference unit implements
// so a pipeline driver can treat heterogeneous models the same way.
//
// The unit moves through Idle -> Buffering (Enqueue) -> Submitted
// (SubmitRequest) -> Idle (FetchResults). Calling an operation outside its
// valid state fails with false and leaves the unit usable. A unit is not
// internally thread-safe; one logical pipeline thread drives it per cycle.
type Inference interface {
	// LoadNetwork binds the model once. Wrong output arity for the unit's
	// family is a fatal configuration error reported here, not at fetch time.
	LoadNetwork(model Model) error
	// Enqueue buffers one frame region for the next request. It fails when
	// the buffer is at the model's batch capacity, when the region is
	// degenerate or outside the frame, or while a request is outstanding.
	// It never touches the Engine.
	Enqueue(frame gocv.Mat, region image.Rectangle) bool
	// SubmitRequest hands all buffered regions to the Engine as one request.
	// On failure the buffered regions are discarded and the unit returns to
	// Idle; the frame they reference is not retained across cycles.
	SubmitRequest() bool
	// FetchResults waits for the outstanding request, decodes one result set
	// per buffered region in enqueue order and clears the region buffer.
	FetchResults() bool
	ResultsLength() int
	LocationResult(idx int) Result
	Name() string
	ObserveOutput(out Output)
}
