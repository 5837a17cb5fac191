package inferences

import (
	"errors"
	"image"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"VinoInferServer/models"
)

// fakeEngine satisfies iface.Engine without touching a real network. Outputs
// are produced per staged input from the configured generators, keyed by
// output blob name.
type fakeEngine struct {
	gen map[string]func(i int) []float32

	staged      int
	started     bool
	outs        map[string][][]float32
	setInputErr error
	startErr    error
	waitErr     error
}

func newFakeEngine(gen map[string]func(i int) []float32) *fakeEngine {
	return &fakeEngine{gen: gen}
}

func (f *fakeEngine) SetInput(name string, frame gocv.Mat, region image.Rectangle) error {
	if f.setInputErr != nil {
		f.staged = 0
		return f.setInputErr
	}
	f.staged++
	return nil
}

func (f *fakeEngine) StartAsync() error {
	if f.startErr != nil {
		f.staged = 0
		return f.startErr
	}
	if f.staged == 0 {
		return errors.New("fake: no inputs staged")
	}
	outs := make(map[string][][]float32, len(f.gen))
	for name, g := range f.gen {
		rows := make([][]float32, f.staged)
		for i := range rows {
			rows[i] = g(i)
		}
		outs[name] = rows
	}
	f.outs = outs
	f.started = true
	f.staged = 0
	return nil
}

func (f *fakeEngine) Wait(timeout time.Duration) error {
	if f.waitErr != nil {
		return f.waitErr
	}
	if !f.started {
		return errors.New("fake: no request outstanding")
	}
	return nil
}

func (f *fakeEngine) Outputs(name string) ([][]float32, error) {
	vals, ok := f.outs[name]
	if !ok {
		return nil, errors.New("fake: unknown output " + name)
	}
	return vals, nil
}

func (f *fakeEngine) Close() error { return nil }

func testFrame(t *testing.T) gocv.Mat {
	t.Helper()
	frame := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { _ = frame.Close() })
	return frame
}

func headPoseModel(t *testing.T, maxBatch int) *models.Description {
	t.Helper()
	desc, err := models.FromConfig(models.Config{
		Name:         "head-pose-estimation-adas-0001",
		Path:         "testdata/head-pose.onnx",
		Input:        "data",
		Outputs:      []string{"angle_y_fc", "angle_p_fc", "angle_r_fc"},
		OutputSizes:  []int{1, 1, 1},
		InputWidth:   60,
		InputHeight:  60,
		MaxBatchSize: maxBatch,
	})
	if err != nil {
		t.Fatalf("head pose model: %v", err)
	}
	return desc
}

func faceModel(t *testing.T, labels []string) *models.Description {
	t.Helper()
	desc, err := models.FromConfig(models.Config{
		Name:        "face-detection-adas-0001",
		Path:        "testdata/face-detection.onnx",
		Input:       "data",
		Outputs:     []string{"detection_out"},
		OutputSizes: []int{1400},
		InputWidth:  672,
		InputHeight: 384,
		Labels:      labels,
	})
	if err != nil {
		t.Fatalf("face model: %v", err)
	}
	return desc
}

func ageGenderModel(t *testing.T, maxBatch int) *models.Description {
	t.Helper()
	desc, err := models.FromConfig(models.Config{
		Name:         "age-gender-recognition-retail-0013",
		Path:         "testdata/age-gender.onnx",
		Input:        "data",
		Outputs:      []string{"age_conv3", "prob"},
		OutputSizes:  []int{1, 2},
		InputWidth:   62,
		InputHeight:  62,
		MaxBatchSize: maxBatch,
	})
	if err != nil {
		t.Fatalf("age gender model: %v", err)
	}
	return desc
}

func emotionsModel(t *testing.T, labels []string) *models.Description {
	t.Helper()
	desc, err := models.FromConfig(models.Config{
		Name:         "emotions-recognition-retail-0003",
		Path:         "testdata/emotions.onnx",
		Input:        "data",
		Outputs:      []string{"prob_emotion"},
		OutputSizes:  []int{len(labels)},
		InputWidth:   64,
		InputHeight:  64,
		MaxBatchSize: 16,
		Labels:       labels,
	})
	if err != nil {
		t.Fatalf("emotions model: %v", err)
	}
	return desc
}

func headPoseGen() map[string]func(i int) []float32 {
	return map[string]func(i int) []float32{
		"angle_y_fc": func(i int) []float32 { return []float32{30 + float32(i)} },
		"angle_p_fc": func(i int) []float32 { return []float32{5 + float32(i)} },
		"angle_r_fc": func(i int) []float32 { return []float32{-2 + float32(i)} },
	}
}
