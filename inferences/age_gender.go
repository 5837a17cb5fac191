package inferences

import (
	"image"
	"time"

	"gocv.io/x/gocv"

	iface "VinoInferServer/interface"
)

// AgeGenderResult is the decoded age estimate and gender probability for one
// face region. Values default to -1 until decoded.
type AgeGenderResult struct {
	location image.Rectangle
	age      float32
	maleProb float32
}

func newAgeGenderResult(location image.Rectangle) *AgeGenderResult {
	return &AgeGenderResult{location: location, age: -1, maleProb: -1}
}

func (r *AgeGenderResult) Location() image.Rectangle { return r.location }
func (r *AgeGenderResult) Age() float32              { return r.age }

// MaleProbability is the network's confidence that the face is male.
func (r *AgeGenderResult) MaleProbability() float32 { return r.maleProb }

// AgeGenderRecognition decodes a two-output network: output 0 is the age
// divided by 100, output 1 a [female, male] softmax.
type AgeGenderRecognition struct {
	base
	results []*AgeGenderResult
}

func NewAgeGenderRecognition(eng iface.Engine, timeout time.Duration) *AgeGenderRecognition {
	return &AgeGenderRecognition{base: newBase("AgeGenderRecognition", eng, timeout)}
}

func (ag *AgeGenderRecognition) LoadNetwork(m iface.Model) error {
	return ag.loadNetwork(m, 2)
}

func (ag *AgeGenderRecognition) Enqueue(frame gocv.Mat, region image.Rectangle) bool {
	return ag.enqueue(frame, region)
}

func (ag *AgeGenderRecognition) SubmitRequest() bool {
	return ag.submit()
}

func (ag *AgeGenderRecognition) FetchResults() bool {
	if ag.state != StateSubmitted {
		return false
	}
	regions, outs, ok := ag.fetchOutputs()
	if !ok {
		ag.results = nil
		return false
	}
	names := ag.model.OutputNames()
	ages, probs := outs[names[0]], outs[names[1]]
	results := make([]*AgeGenderResult, 0, len(regions))
	for i, p := range regions {
		if len(ages[i]) < 1 || len(probs[i]) < 2 {
			ag.results = nil
			return false
		}
		r := newAgeGenderResult(p.region)
		r.age = ages[i][0] * 100
		r.maleProb = probs[i][1]
		results = append(results, r)
	}
	ag.results = results
	return true
}

func (ag *AgeGenderRecognition) ResultsLength() int { return len(ag.results) }

func (ag *AgeGenderRecognition) LocationResult(idx int) iface.Result {
	if idx < 0 || idx >= len(ag.results) {
		return nil
	}
	return ag.results[idx]
}

func (ag *AgeGenderRecognition) Result(idx int) *AgeGenderResult {
	if idx < 0 || idx >= len(ag.results) {
		return nil
	}
	return ag.results[idx]
}

func (ag *AgeGenderRecognition) Name() string { return ag.name }

func (ag *AgeGenderRecognition) ObserveOutput(out iface.Output) {
	if out == nil {
		return
	}
	rs := make([]iface.Result, len(ag.results))
	for i, r := range ag.results {
		rs[i] = r
	}
	out.Accept(ag.Name(), rs)
}
