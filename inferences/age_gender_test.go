package inferences

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ageGenderGen() map[string]func(i int) []float32 {
	return map[string]func(i int) []float32{
		"age_conv3": func(i int) []float32 { return []float32{0.25 + 0.1*float32(i)} },
		"prob":      func(i int) []float32 { return []float32{0.3, 0.7} },
	}
}

func TestAgeGenderRecognition_Decode(t *testing.T) {
	frame := testFrame(t)
	eng := newFakeEngine(ageGenderGen())
	ag := NewAgeGenderRecognition(eng, 0)
	assert.NoError(t, ag.LoadNetwork(ageGenderModel(t, 16)))

	r1 := image.Rect(10, 10, 72, 72)
	r2 := image.Rect(200, 50, 262, 112)
	assert.True(t, ag.Enqueue(frame, r1))
	assert.True(t, ag.Enqueue(frame, r2))
	assert.True(t, ag.SubmitRequest())
	assert.True(t, ag.FetchResults())
	assert.Equal(t, 2, ag.ResultsLength())

	// Raw age is a fraction of 100 years; gender is the male slot of a
	// [female, male] softmax.
	first := ag.Result(0)
	assert.Equal(t, r1, first.Location())
	assert.InDelta(t, 25.0, float64(first.Age()), 1e-4)
	assert.InDelta(t, 0.7, float64(first.MaleProbability()), 1e-6)

	second := ag.Result(1)
	assert.Equal(t, r2, second.Location())
	assert.InDelta(t, 35.0, float64(second.Age()), 1e-4)
}

func TestAgeGenderRecognition_MalformedOutput(t *testing.T) {
	frame := testFrame(t)
	eng := newFakeEngine(map[string]func(i int) []float32{
		"age_conv3": func(i int) []float32 { return []float32{0.25} },
		// Missing the male slot.
		"prob": func(i int) []float32 { return []float32{1} },
	})
	ag := NewAgeGenderRecognition(eng, 0)
	assert.NoError(t, ag.LoadNetwork(ageGenderModel(t, 16)))

	assert.True(t, ag.Enqueue(frame, image.Rect(10, 10, 72, 72)))
	assert.True(t, ag.SubmitRequest())

	// All-or-nothing: a malformed cycle yields no partial results.
	assert.False(t, ag.FetchResults())
	assert.Equal(t, 0, ag.ResultsLength())
}

func TestAgeGenderRecognition_WrongArity(t *testing.T) {
	eng := newFakeEngine(ageGenderGen())
	ag := NewAgeGenderRecognition(eng, 0)
	assert.Error(t, ag.LoadNetwork(headPoseModel(t, 16)))
}
