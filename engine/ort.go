package engine

import (
	"fmt"
	"image"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	iface "VinoInferServer/interface"
	"VinoInferServer/logger"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initORTRuntime(libPath string) error {
	ortInitOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ORT drives a network through ONNX Runtime. The session holds one
// preallocated input tensor and one preallocated tensor per declared output;
// staged regions are run through it one by one on a background goroutine.
type ORT struct {
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	outs        []*ort.Tensor[float32]
	inputName   string
	outputNames []string
	inputW      int
	inputH      int

	mu     sync.Mutex
	staged [][]float32
	cur    *request
	closed bool
}

// NewORT creates an ONNX Runtime session for the model. The model must
// declare the element count of every output tensor so the session buffers
// can be preallocated.
func NewORT(cfg Config, model iface.Model) (*ORT, error) {
	if err := initORTRuntime(cfg.OrtLibPath); err != nil {
		return nil, fmt.Errorf("engine: onnxruntime init: %w", err)
	}
	sizes := model.OutputSizes()
	if len(sizes) != len(model.OutputNames()) {
		return nil, fmt.Errorf("engine: model %q declares %d outputs but %d output sizes",
			model.Name(), len(model.OutputNames()), len(sizes))
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("engine: session options: %w", err)
	}
	defer options.Destroy()

	inputShape := ort.NewShape(1, 3, int64(model.InputHeight()), int64(model.InputWidth()))
	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("engine: input tensor: %w", err)
	}

	outs := make([]*ort.Tensor[float32], 0, len(sizes))
	arbitraryOuts := make([]ort.ArbitraryTensor, 0, len(sizes))
	destroyAll := func() {
		input.Destroy()
		for _, t := range outs {
			t.Destroy()
		}
	}
	for i, size := range sizes {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(size)))
		if err != nil {
			destroyAll()
			return nil, fmt.Errorf("engine: output tensor %q: %w", model.OutputNames()[i], err)
		}
		outs = append(outs, t)
		arbitraryOuts = append(arbitraryOuts, t)
	}

	session, err := ort.NewAdvancedSession(
		model.Path(),
		[]string{model.InputName()},
		model.OutputNames(),
		[]ort.ArbitraryTensor{input},
		arbitraryOuts,
		options,
	)
	if err != nil {
		destroyAll()
		return nil, fmt.Errorf("engine: session for %q: %w", model.Path(), err)
	}

	return &ORT{
		session:     session,
		input:       input,
		outs:        outs,
		inputName:   model.InputName(),
		outputNames: model.OutputNames(),
		inputW:      model.InputWidth(),
		inputH:      model.InputHeight(),
	}, nil
}

func (o *ORT) SetInput(name string, frame gocv.Mat, region image.Rectangle) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if name != o.inputName {
		o.staged = nil
		return ErrUnknownInput
	}
	blob, err := blobFromRegion(frame, region, o.inputW, o.inputH)
	if err != nil {
		o.staged = nil
		return err
	}
	defer blob.Close()
	data, err := blob.DataPtrFloat32()
	if err != nil {
		o.staged = nil
		return fmt.Errorf("engine: blob data: %w", err)
	}
	o.staged = append(o.staged, append([]float32(nil), data...))
	return nil
}

func (o *ORT) StartAsync() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if len(o.staged) == 0 {
		return ErrNoInput
	}
	if requestState(o.cur) == RequestRunning {
		// The submitting unit abandons its batch on failure.
		o.staged = nil
		return ErrBusy
	}
	req := newRequest()
	inputs := o.staged
	o.staged = nil
	o.cur = req
	go o.run(req, inputs)
	return nil
}

func (o *ORT) run(req *request, inputs [][]float32) {
	defer close(req.done)
	dst := o.input.GetData()
	for _, in := range inputs {
		if len(in) != len(dst) {
			req.err = fmt.Errorf("engine: blob has %d elements, input tensor wants %d",
				len(in), len(dst))
			return
		}
		copy(dst, in)
		if err := o.session.Run(); err != nil {
			req.err = fmt.Errorf("engine: session run: %w", err)
			return
		}
		for i, name := range o.outputNames {
			out := o.outs[i].GetData()
			req.outputs[name] = append(req.outputs[name], append([]float32(nil), out...))
		}
	}
}

func (o *ORT) Wait(timeout time.Duration) error {
	o.mu.Lock()
	req := o.cur
	o.mu.Unlock()
	if req == nil {
		return ErrNoRequest
	}
	select {
	case <-req.done:
		return req.err
	case <-time.After(timeout):
		logger.Log().Warn("ort request timed out",
			zap.String("request", req.id), zap.Duration("timeout", timeout))
		return ErrTimeout
	}
}

func (o *ORT) Outputs(name string) ([][]float32, error) {
	o.mu.Lock()
	req := o.cur
	o.mu.Unlock()
	if requestState(req) != RequestDone || req.err != nil {
		return nil, ErrNoRequest
	}
	vals, ok := req.outputs[name]
	if !ok {
		return nil, ErrUnknownOutput
	}
	return vals, nil
}

func (o *ORT) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	if requestState(o.cur) == RequestRunning {
		<-o.cur.done
	}
	o.closed = true
	o.session.Destroy()
	o.input.Destroy()
	for _, t := range o.outs {
		t.Destroy()
	}
	return nil
}
