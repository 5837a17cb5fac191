package inferences

import (
	"errors"
	"image"
	"time"

	"gocv.io/x/gocv"

	iface "VinoInferServer/interface"
)

var errEmotionsNeedLabels = errors.New("EmotionsRecognition: model declares no labels")

// EmotionsResult is the dominant emotion for one face region.
type EmotionsResult struct {
	location   image.Rectangle
	label      string
	confidence float32
}

func newEmotionsResult(location image.Rectangle) *EmotionsResult {
	return &EmotionsResult{location: location, confidence: -1}
}

func (r *EmotionsResult) Location() image.Rectangle { return r.location }
func (r *EmotionsResult) Label() string             { return r.label }
func (r *EmotionsResult) Confidence() float32       { return r.confidence }

// EmotionsRecognition decodes a single softmax output over the model's label
// list and keeps the argmax per region.
type EmotionsRecognition struct {
	base
	results []*EmotionsResult
}

func NewEmotionsRecognition(eng iface.Engine, timeout time.Duration) *EmotionsRecognition {
	return &EmotionsRecognition{base: newBase("EmotionsRecognition", eng, timeout)}
}

func (em *EmotionsRecognition) LoadNetwork(m iface.Model) error {
	if err := em.loadNetwork(m, 1); err != nil {
		return err
	}
	if len(m.Labels()) == 0 {
		em.model = nil
		return errEmotionsNeedLabels
	}
	return nil
}

func (em *EmotionsRecognition) Enqueue(frame gocv.Mat, region image.Rectangle) bool {
	return em.enqueue(frame, region)
}

func (em *EmotionsRecognition) SubmitRequest() bool {
	return em.submit()
}

func (em *EmotionsRecognition) FetchResults() bool {
	if em.state != StateSubmitted {
		return false
	}
	regions, outs, ok := em.fetchOutputs()
	if !ok {
		em.results = nil
		return false
	}
	labels := em.model.Labels()
	scores := outs[em.model.OutputNames()[0]]
	results := make([]*EmotionsResult, 0, len(regions))
	for i, p := range regions {
		if len(scores[i]) != len(labels) {
			em.results = nil
			return false
		}
		best := 0
		for j := 1; j < len(scores[i]); j++ {
			if scores[i][j] > scores[i][best] {
				best = j
			}
		}
		r := newEmotionsResult(p.region)
		r.label = labels[best]
		r.confidence = scores[i][best]
		results = append(results, r)
	}
	em.results = results
	return true
}

func (em *EmotionsRecognition) ResultsLength() int { return len(em.results) }

func (em *EmotionsRecognition) LocationResult(idx int) iface.Result {
	if idx < 0 || idx >= len(em.results) {
		return nil
	}
	return em.results[idx]
}

func (em *EmotionsRecognition) Result(idx int) *EmotionsResult {
	if idx < 0 || idx >= len(em.results) {
		return nil
	}
	return em.results[idx]
}

func (em *EmotionsRecognition) Name() string { return em.name }

func (em *EmotionsRecognition) ObserveOutput(out iface.Output) {
	if out == nil {
		return
	}
	rs := make([]iface.Result, len(em.results))
	for i, r := range em.results {
		rs[i] = r
	}
	out.Accept(em.Name(), rs)
}
