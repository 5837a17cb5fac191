// Package engine runs compiled networks against staged frame regions. Two
// backends are provided behind iface.Engine: OpenCV DNN (gocv) and ONNX
// Runtime. Both accept named input blobs, execute asynchronously and expose
// named output tensors split per staged input once the request completes.
package engine

import (
	"errors"
	"fmt"
	"image"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// Request lifecycle states.
const (
	RequestIdle    = 0x0001
	RequestRunning = 0x0002
	RequestDone    = 0x0003
)

var (
	ErrNoInput       = errors.New("engine: no inputs staged")
	ErrBusy          = errors.New("engine: a request is already outstanding")
	ErrNoRequest     = errors.New("engine: no completed request to read from")
	ErrTimeout       = errors.New("engine: request did not complete in time")
	ErrUnknownInput  = errors.New("engine: unknown input blob name")
	ErrUnknownOutput = errors.New("engine: unknown output blob name")
	ErrClosed        = errors.New("engine: closed")
)

// Config selects the execution backend, read from the server yaml.
type Config struct {
	Backend string `yaml:"backend"` // "dnn" or "ort"
	UseGPU  bool   `yaml:"useGPU"`
	// OrtLibPath points at the onnxruntime shared library; only used by the
	// ort backend and only needed when the library is not on the loader path.
	OrtLibPath string `yaml:"ortLibPath"`
}

// request is one submitted batch. outputs maps output blob name to one
// float32 slice per staged input, in SetInput order.
type request struct {
	id      string
	outputs map[string][][]float32
	err     error
	done    chan struct{}
}

func newRequest() *request {
	return &request{
		id:      uuid.NewString(),
		outputs: map[string][][]float32{},
		done:    make(chan struct{}),
	}
}

// requestState reports where a request is in its lifecycle. A nil request
// means the engine has never been asked to run.
func requestState(r *request) int {
	if r == nil {
		return RequestIdle
	}
	select {
	case <-r.done:
		return RequestDone
	default:
		return RequestRunning
	}
}

// blobFromRegion crops the region out of the frame and converts it to an
// NCHW float32 blob of the network's input dimensions. Resizing and layout
// conversion live here so inference units never touch pixels.
func blobFromRegion(frame gocv.Mat, region image.Rectangle, width, height int) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.Mat{}, fmt.Errorf("engine: empty frame")
	}
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	if !region.In(bounds) {
		return gocv.Mat{}, fmt.Errorf("engine: region %v outside frame %v", region, bounds)
	}
	crop := frame.Region(region)
	defer crop.Close()
	blob := gocv.BlobFromImage(crop, 1.0, image.Pt(width, height),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	if blob.Empty() {
		return gocv.Mat{}, fmt.Errorf("engine: blob conversion failed for region %v", region)
	}
	return blob, nil
}
