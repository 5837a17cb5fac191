// Package pipeline drives one face detector and its dependent attribute
// units through complete enqueue/submit/fetch cycles over incoming frames.
package pipeline

import (
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"VinoInferServer/inferences"
	iface "VinoInferServer/interface"
	"VinoInferServer/logger"
	"VinoInferServer/monitor"
)

// FaceReport correlates one detected face with the attribute results decoded
// for it in the same cycle. Attribute fields are nil when the corresponding
// unit is not configured or the face exceeded the unit's batch capacity.
type FaceReport struct {
	Box        image.Rectangle
	Confidence float32
	Pose       *inferences.HeadPoseResult
	AgeGender  *inferences.AgeGenderResult
	Emotion    *inferences.EmotionsResult
}

// Pipeline owns the inference units for one worker. It enforces the
// one-outstanding-request-per-unit discipline: every unit completes its
// cycle within RunOnce, so no unit ever sees a new enqueue while a request
// is in flight.
type Pipeline struct {
	detector  *inferences.FaceDetection
	pose      *inferences.HeadPoseEstimation
	ageGender *inferences.AgeGenderRecognition
	emotions  *inferences.EmotionsRecognition

	// estimators is the uniform view of the configured attribute units,
	// in a fixed order, used for the enqueue/submit/fetch/observe loops.
	estimators []iface.Inference
	sinks      []iface.Output
	log        *zap.Logger
}

// New assembles a pipeline. The detector is required; attribute units may be
// nil when their model is not configured.
func New(
	detector *inferences.FaceDetection,
	pose *inferences.HeadPoseEstimation,
	ageGender *inferences.AgeGenderRecognition,
	emotions *inferences.EmotionsRecognition,
	sinks ...iface.Output,
) (*Pipeline, error) {
	if detector == nil {
		return nil, errors.New("pipeline: face detector is required")
	}
	p := &Pipeline{
		detector:  detector,
		pose:      pose,
		ageGender: ageGender,
		emotions:  emotions,
		sinks:     sinks,
		log:       logger.Log(),
	}
	if pose != nil {
		p.estimators = append(p.estimators, pose)
	}
	if ageGender != nil {
		p.estimators = append(p.estimators, ageGender)
	}
	if emotions != nil {
		p.estimators = append(p.estimators, emotions)
	}
	return p, nil
}

// RunOnce processes one frame: detect faces over the whole frame, then run
// every configured attribute unit over the detected face regions. The frame
// must stay valid until RunOnce returns; the units hold views into it across
// the asynchronous engine boundary.
func (p *Pipeline) RunOnce(frame gocv.Mat) ([]FaceReport, error) {
	start := time.Now()
	monitor.CyclesTotal.Inc()

	reports, err := p.runCycle(frame)
	if err != nil {
		monitor.CycleFailures.Inc()
		return nil, err
	}

	monitor.CycleLatency.Observe(time.Since(start).Seconds())
	monitor.ResultsTotal.Add(float64(len(reports)))
	p.observe()
	return reports, nil
}

func (p *Pipeline) runCycle(frame gocv.Mat) ([]FaceReport, error) {
	if frame.Empty() {
		return nil, errors.New("pipeline: empty frame")
	}
	full := image.Rect(0, 0, frame.Cols(), frame.Rows())
	if !p.detector.Enqueue(frame, full) {
		return nil, fmt.Errorf("pipeline: %s rejected frame %v", p.detector.Name(), full)
	}
	if !p.detector.SubmitRequest() {
		return nil, fmt.Errorf("pipeline: %s rejected request", p.detector.Name())
	}
	if !p.detector.FetchResults() {
		return nil, fmt.Errorf("pipeline: %s produced no results", p.detector.Name())
	}

	faces := p.detector.ResultsLength()
	reports := make([]FaceReport, faces)
	for i := 0; i < faces; i++ {
		r := p.detector.Result(i)
		reports[i] = FaceReport{Box: r.Location(), Confidence: r.Confidence()}
	}

	// Fan the face regions out to the attribute units. Each unit accepts up
	// to its model's batch capacity; fetched counts track how many faces a
	// unit actually processed so decoded results stay index-aligned.
	fetched := make([]int, len(p.estimators))
	for u, est := range p.estimators {
		for i := 0; i < faces; i++ {
			if !est.Enqueue(frame, reports[i].Box) {
				p.log.Warn("attribute unit at capacity",
					zap.String("unit", est.Name()),
					zap.Int("face", i), zap.Int("faces", faces))
				break
			}
			fetched[u]++
		}
	}
	for u, est := range p.estimators {
		if fetched[u] == 0 {
			continue
		}
		if !est.SubmitRequest() || !est.FetchResults() {
			p.log.Warn("attribute cycle failed, skipping",
				zap.String("unit", est.Name()))
			fetched[u] = 0
		}
	}

	for i := range reports {
		if p.pose != nil {
			reports[i].Pose = p.pose.Result(i)
		}
		if p.ageGender != nil {
			reports[i].AgeGender = p.ageGender.Result(i)
		}
		if p.emotions != nil {
			reports[i].Emotion = p.emotions.Result(i)
		}
	}
	return reports, nil
}

func (p *Pipeline) observe() {
	for _, sink := range p.sinks {
		p.detector.ObserveOutput(sink)
		for _, est := range p.estimators {
			est.ObserveOutput(sink)
		}
	}
}

// Units returns the uniform view of every inference unit in the pipeline,
// detector first.
func (p *Pipeline) Units() []iface.Inference {
	units := make([]iface.Inference, 0, 1+len(p.estimators))
	units = append(units, p.detector)
	return append(units, p.estimators...)
}
