package inferences

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

var emotionLabels = []string{"neutral", "happy", "sad", "surprise", "anger"}

func TestEmotionsRecognition_Decode(t *testing.T) {
	frame := testFrame(t)
	eng := newFakeEngine(map[string]func(i int) []float32{
		"prob_emotion": func(i int) []float32 {
			if i == 0 {
				return []float32{0.05, 0.8, 0.05, 0.05, 0.05}
			}
			return []float32{0.1, 0.1, 0.1, 0.1, 0.6}
		},
	})
	em := NewEmotionsRecognition(eng, 0)
	assert.NoError(t, em.LoadNetwork(emotionsModel(t, emotionLabels)))

	r1 := image.Rect(10, 10, 74, 74)
	r2 := image.Rect(200, 50, 264, 114)
	assert.True(t, em.Enqueue(frame, r1))
	assert.True(t, em.Enqueue(frame, r2))
	assert.True(t, em.SubmitRequest())
	assert.True(t, em.FetchResults())
	assert.Equal(t, 2, em.ResultsLength())

	first := em.Result(0)
	assert.Equal(t, r1, first.Location())
	assert.Equal(t, "happy", first.Label())
	assert.InDelta(t, 0.8, float64(first.Confidence()), 1e-6)

	second := em.Result(1)
	assert.Equal(t, "anger", second.Label())
}

func TestEmotionsRecognition_LabelsRequired(t *testing.T) {
	eng := newFakeEngine(nil)
	em := NewEmotionsRecognition(eng, 0)
	assert.ErrorIs(t, em.LoadNetwork(emotionsModel(t, nil)), errEmotionsNeedLabels)

	// A rejected model leaves the unit unbound.
	frame := testFrame(t)
	assert.False(t, em.Enqueue(frame, image.Rect(0, 0, 64, 64)))
	assert.NoError(t, em.LoadNetwork(emotionsModel(t, emotionLabels)))
}

func TestEmotionsRecognition_ScoreLabelMismatch(t *testing.T) {
	frame := testFrame(t)
	eng := newFakeEngine(map[string]func(i int) []float32{
		// Three scores against five labels.
		"prob_emotion": func(i int) []float32 { return []float32{0.2, 0.5, 0.3} },
	})
	em := NewEmotionsRecognition(eng, 0)
	assert.NoError(t, em.LoadNetwork(emotionsModel(t, emotionLabels)))

	assert.True(t, em.Enqueue(frame, image.Rect(10, 10, 74, 74)))
	assert.True(t, em.SubmitRequest())
	assert.False(t, em.FetchResults())
	assert.Equal(t, 0, em.ResultsLength())
}
