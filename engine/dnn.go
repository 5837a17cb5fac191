package engine

import (
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	iface "VinoInferServer/interface"
	"VinoInferServer/logger"
)

// DNN drives a network through OpenCV's DNN module. One DNN instance owns one
// compiled network; at most one request may be outstanding at a time, the
// forward passes run on a dedicated goroutine.
type DNN struct {
	net         gocv.Net
	inputName   string
	outputNames []string
	inputW      int
	inputH      int

	mu     sync.Mutex
	staged []gocv.Mat
	cur    *request
	closed bool
}

// NewDNN reads the compiled network from the model's path and prepares it for
// the configured device.
func NewDNN(cfg Config, model iface.Model) (*DNN, error) {
	net := gocv.ReadNet(model.Path(), "")
	if net.Empty() {
		return nil, fmt.Errorf("engine: cannot read network from %q", model.Path())
	}
	if cfg.UseGPU {
		if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
			_ = net.Close()
			return nil, fmt.Errorf("engine: CUDA backend unavailable: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err != nil {
			_ = net.Close()
			return nil, fmt.Errorf("engine: CUDA target unavailable: %w", err)
		}
	}
	return &DNN{
		net:         net,
		inputName:   model.InputName(),
		outputNames: model.OutputNames(),
		inputW:      model.InputWidth(),
		inputH:      model.InputHeight(),
	}, nil
}

func (d *DNN) SetInput(name string, frame gocv.Mat, region image.Rectangle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if name != d.inputName {
		d.discardStagedLocked()
		return ErrUnknownInput
	}
	blob, err := blobFromRegion(frame, region, d.inputW, d.inputH)
	if err != nil {
		d.discardStagedLocked()
		return err
	}
	d.staged = append(d.staged, blob)
	return nil
}

func (d *DNN) StartAsync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if len(d.staged) == 0 {
		return ErrNoInput
	}
	if requestState(d.cur) == RequestRunning {
		// The submitting unit abandons its batch on failure.
		d.discardStagedLocked()
		return ErrBusy
	}
	req := newRequest()
	blobs := d.staged
	d.staged = nil
	d.cur = req
	go d.run(req, blobs)
	return nil
}

func (d *DNN) run(req *request, blobs []gocv.Mat) {
	defer close(req.done)
	defer func() {
		for i := range blobs {
			_ = blobs[i].Close()
		}
	}()
	for _, blob := range blobs {
		d.net.SetInput(blob, d.inputName)
		outs := d.net.ForwardLayers(d.outputNames)
		if len(outs) != len(d.outputNames) {
			req.err = fmt.Errorf("engine: forward returned %d outputs, want %d",
				len(outs), len(d.outputNames))
			return
		}
		for i, name := range d.outputNames {
			data, err := outs[i].DataPtrFloat32()
			if err != nil {
				req.err = fmt.Errorf("engine: output %q: %w", name, err)
			} else {
				req.outputs[name] = append(req.outputs[name], append([]float32(nil), data...))
			}
			_ = outs[i].Close()
		}
		if req.err != nil {
			return
		}
	}
}

func (d *DNN) Wait(timeout time.Duration) error {
	d.mu.Lock()
	req := d.cur
	d.mu.Unlock()
	if req == nil {
		return ErrNoRequest
	}
	select {
	case <-req.done:
		return req.err
	case <-time.After(timeout):
		logger.Log().Warn("dnn request timed out",
			zap.String("request", req.id), zap.Duration("timeout", timeout))
		return ErrTimeout
	}
}

func (d *DNN) Outputs(name string) ([][]float32, error) {
	d.mu.Lock()
	req := d.cur
	d.mu.Unlock()
	if requestState(req) != RequestDone || req.err != nil {
		return nil, ErrNoRequest
	}
	vals, ok := req.outputs[name]
	if !ok {
		return nil, ErrUnknownOutput
	}
	return vals, nil
}

func (d *DNN) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	if requestState(d.cur) == RequestRunning {
		<-d.cur.done
	}
	d.discardStagedLocked()
	d.closed = true
	return d.net.Close()
}

func (d *DNN) discardStagedLocked() {
	for i := range d.staged {
		_ = d.staged[i].Close()
	}
	d.staged = nil
}
