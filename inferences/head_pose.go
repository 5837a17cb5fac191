package inferences

import (
	"image"
	"time"

	"gocv.io/x/gocv"

	iface "VinoInferServer/interface"
)

// HeadPoseResult carries the three Tait-Bryan angles for one face region.
// Angles default to -1 until decoded from engine output.
type HeadPoseResult struct {
	location image.Rectangle
	angleY   float32
	angleP   float32
	angleR   float32
}

func newHeadPoseResult(location image.Rectangle) *HeadPoseResult {
	return &HeadPoseResult{location: location, angleY: -1, angleP: -1, angleR: -1}
}

func (r *HeadPoseResult) Location() image.Rectangle { return r.location }

// AngleY is the yaw angle in degrees.
func (r *HeadPoseResult) AngleY() float32 { return r.angleY }

// AngleP is the pitch angle in degrees.
func (r *HeadPoseResult) AngleP() float32 { return r.angleP }

// AngleR is the roll angle in degrees.
func (r *HeadPoseResult) AngleR() float32 { return r.angleR }

// HeadPoseEstimation estimates yaw/pitch/roll for face crops. The model must
// declare exactly three outputs, in yaw, pitch, roll order; each yields one
// scalar per enqueued region.
type HeadPoseEstimation struct {
	base
	results []*HeadPoseResult
}

func NewHeadPoseEstimation(eng iface.Engine, timeout time.Duration) *HeadPoseEstimation {
	return &HeadPoseEstimation{base: newBase("HeadPoseEstimation", eng, timeout)}
}

func (hp *HeadPoseEstimation) LoadNetwork(m iface.Model) error {
	return hp.loadNetwork(m, 3)
}

func (hp *HeadPoseEstimation) Enqueue(frame gocv.Mat, region image.Rectangle) bool {
	return hp.enqueue(frame, region)
}

func (hp *HeadPoseEstimation) SubmitRequest() bool {
	return hp.submit()
}

func (hp *HeadPoseEstimation) FetchResults() bool {
	if hp.state != StateSubmitted {
		return false
	}
	regions, outs, ok := hp.fetchOutputs()
	if !ok {
		hp.results = nil
		return false
	}
	names := hp.model.OutputNames()
	yaws, pitches, rolls := outs[names[0]], outs[names[1]], outs[names[2]]
	results := make([]*HeadPoseResult, 0, len(regions))
	for i, p := range regions {
		if len(yaws[i]) < 1 || len(pitches[i]) < 1 || len(rolls[i]) < 1 {
			hp.results = nil
			return false
		}
		r := newHeadPoseResult(p.region)
		r.angleY = yaws[i][0]
		r.angleP = pitches[i][0]
		r.angleR = rolls[i][0]
		results = append(results, r)
	}
	hp.results = results
	return true
}

func (hp *HeadPoseEstimation) ResultsLength() int { return len(hp.results) }

func (hp *HeadPoseEstimation) LocationResult(idx int) iface.Result {
	if idx < 0 || idx >= len(hp.results) {
		return nil
	}
	return hp.results[idx]
}

func (hp *HeadPoseEstimation) Result(idx int) *HeadPoseResult {
	if idx < 0 || idx >= len(hp.results) {
		return nil
	}
	return hp.results[idx]
}

func (hp *HeadPoseEstimation) Name() string { return hp.name }

func (hp *HeadPoseEstimation) ObserveOutput(out iface.Output) {
	if out == nil {
		return
	}
	rs := make([]iface.Result, len(hp.results))
	for i, r := range hp.results {
		rs[i] = r
	}
	out.Accept(hp.Name(), rs)
}
