package inferences

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ssdRows flattens detection rows into one SSD output tensor.
func ssdRows(rows ...[7]float32) []float32 {
	data := make([]float32, 0, len(rows)*ssdRowLen)
	for _, row := range rows {
		data = append(data, row[:]...)
	}
	return data
}

func TestFaceDetection_Decode(t *testing.T) {
	frame := testFrame(t)
	full := image.Rect(0, 0, 640, 480)

	eng := newFakeEngine(map[string]func(i int) []float32{
		"detection_out": func(i int) []float32 {
			return ssdRows(
				[7]float32{0, 1, 0.92, 0.1, 0.1, 0.3, 0.3},
				[7]float32{0, 1, 0.30, 0.5, 0.5, 0.7, 0.7}, // below threshold
				[7]float32{0, 1, 0.85, 0.4, 0.2, 0.6, 0.5},
				[7]float32{-1, 0, 0, 0, 0, 0, 0}, // terminator
				[7]float32{0, 1, 0.99, 0.0, 0.0, 1.0, 1.0},
			)
		},
	})
	fd := NewFaceDetection(eng, 0.5, 0)
	assert.NoError(t, fd.LoadNetwork(faceModel(t, []string{"background", "face"})))

	assert.True(t, fd.Enqueue(frame, full))
	assert.True(t, fd.SubmitRequest())
	assert.True(t, fd.FetchResults())

	// Two rows survive: one filtered by threshold, everything past the
	// terminator ignored.
	assert.Equal(t, 2, fd.ResultsLength())

	first := fd.Result(0)
	assert.Equal(t, image.Rect(64, 48, 192, 144), first.Location())
	assert.Equal(t, 1, first.Label())
	assert.Equal(t, "face", first.LabelName())
	assert.Equal(t, float32(0.92), first.Confidence())

	second := fd.Result(1)
	assert.Equal(t, image.Rect(256, 96, 384, 240), second.Location())
	assert.Equal(t, float32(0.85), second.Confidence())
}

func TestFaceDetection_RegionRemap(t *testing.T) {
	frame := testFrame(t)
	roi := image.Rect(100, 100, 300, 300)

	eng := newFakeEngine(map[string]func(i int) []float32{
		"detection_out": func(i int) []float32 {
			return ssdRows(
				[7]float32{0, 1, 0.9, 0.25, 0.25, 0.5, 0.5},
				[7]float32{-1, 0, 0, 0, 0, 0, 0},
			)
		},
	})
	fd := NewFaceDetection(eng, 0.5, 0)
	assert.NoError(t, fd.LoadNetwork(faceModel(t, nil)))

	assert.True(t, fd.Enqueue(frame, roi))
	assert.True(t, fd.SubmitRequest())
	assert.True(t, fd.FetchResults())

	// Normalized box is scaled by the ROI size and shifted by its origin.
	assert.Equal(t, 1, fd.ResultsLength())
	assert.Equal(t, image.Rect(150, 150, 200, 200), fd.LocationResult(0).Location())

	// No labels configured: numeric label kept, name empty.
	assert.Equal(t, 1, fd.Result(0).Label())
	assert.Equal(t, "", fd.Result(0).LabelName())
}

func TestFaceDetection_ClampsToRegion(t *testing.T) {
	frame := testFrame(t)
	roi := image.Rect(200, 200, 400, 400)

	eng := newFakeEngine(map[string]func(i int) []float32{
		"detection_out": func(i int) []float32 {
			return ssdRows(
				// Overflows the ROI on both axes.
				[7]float32{0, 1, 0.9, 0.5, 0.5, 1.5, 1.5},
				[7]float32{-1, 0, 0, 0, 0, 0, 0},
			)
		},
	})
	fd := NewFaceDetection(eng, 0.5, 0)
	assert.NoError(t, fd.LoadNetwork(faceModel(t, nil)))

	assert.True(t, fd.Enqueue(frame, roi))
	assert.True(t, fd.SubmitRequest())
	assert.True(t, fd.FetchResults())

	assert.Equal(t, 1, fd.ResultsLength())
	assert.Equal(t, image.Rect(300, 300, 400, 400), fd.LocationResult(0).Location())
}

func TestFaceDetection_NoDetections(t *testing.T) {
	frame := testFrame(t)

	eng := newFakeEngine(map[string]func(i int) []float32{
		"detection_out": func(i int) []float32 {
			return ssdRows([7]float32{-1, 0, 0, 0, 0, 0, 0})
		},
	})
	fd := NewFaceDetection(eng, 0.5, 0)
	assert.NoError(t, fd.LoadNetwork(faceModel(t, nil)))

	assert.True(t, fd.Enqueue(frame, image.Rect(0, 0, 640, 480)))
	assert.True(t, fd.SubmitRequest())

	// An empty frame is a successful cycle with zero results.
	assert.True(t, fd.FetchResults())
	assert.Equal(t, 0, fd.ResultsLength())
	assert.Nil(t, fd.LocationResult(0))
}

func TestFaceDetection_SubmitFailureDiscardsBuffer(t *testing.T) {
	frame := testFrame(t)

	eng := newFakeEngine(map[string]func(i int) []float32{
		"detection_out": func(i int) []float32 {
			return ssdRows(
				[7]float32{0, 1, 0.9, 0.1, 0.1, 0.2, 0.2},
				[7]float32{-1, 0, 0, 0, 0, 0, 0},
			)
		},
	})
	fd := NewFaceDetection(eng, 0.5, 0)
	assert.NoError(t, fd.LoadNetwork(faceModel(t, nil)))

	t.Run("Start Failure", func(t *testing.T) {
		assert.True(t, fd.Enqueue(frame, image.Rect(0, 0, 640, 480)))
		eng.startErr = assert.AnError
		assert.False(t, fd.SubmitRequest())
		eng.startErr = nil

		// The buffered region is gone: the frame behind it may be closed by
		// the caller after the cycle, so the unit must not carry it over.
		assert.False(t, fd.SubmitRequest())

		// A fresh cycle works and sees only its own region.
		assert.True(t, fd.Enqueue(frame, image.Rect(0, 0, 640, 480)))
		assert.True(t, fd.SubmitRequest())
		assert.True(t, fd.FetchResults())
		assert.Equal(t, 1, fd.ResultsLength())
	})

	t.Run("Stage Failure", func(t *testing.T) {
		assert.True(t, fd.Enqueue(frame, image.Rect(0, 0, 640, 480)))
		eng.setInputErr = assert.AnError
		assert.False(t, fd.SubmitRequest())
		eng.setInputErr = nil

		assert.False(t, fd.SubmitRequest())
		assert.True(t, fd.Enqueue(frame, image.Rect(0, 0, 640, 480)))
		assert.True(t, fd.SubmitRequest())
		assert.True(t, fd.FetchResults())
		assert.Equal(t, 1, fd.ResultsLength())
	})
}
