package inferences

import (
	"image"
	"time"

	"gocv.io/x/gocv"

	iface "VinoInferServer/interface"
)

// ssdRowLen is the stride of one SSD detection row:
// [imageID, label, confidence, xmin, ymin, xmax, ymax].
const ssdRowLen = 7

// FaceDetectionResult is one detected face, anchored to the original frame.
type FaceDetectionResult struct {
	location   image.Rectangle
	label      int
	labelName  string
	confidence float32
}

func newFaceDetectionResult(location image.Rectangle) *FaceDetectionResult {
	return &FaceDetectionResult{location: location, label: -1, confidence: -1}
}

func (r *FaceDetectionResult) Location() image.Rectangle { return r.location }
func (r *FaceDetectionResult) Label() int                { return r.label }
func (r *FaceDetectionResult) LabelName() string         { return r.labelName }
func (r *FaceDetectionResult) Confidence() float32       { return r.confidence }

// FaceDetection runs an SSD-style face detector. Unlike the attribute units
// it may produce several results per enqueued region, one per detection above
// the confidence threshold, all remapped into frame coordinates.
type FaceDetection struct {
	base
	threshold float32
	results   []*FaceDetectionResult
}

func NewFaceDetection(eng iface.Engine, threshold float32, timeout time.Duration) *FaceDetection {
	return &FaceDetection{
		base:      newBase("FaceDetection", eng, timeout),
		threshold: threshold,
	}
}

func (fd *FaceDetection) LoadNetwork(m iface.Model) error {
	return fd.loadNetwork(m, 1)
}

func (fd *FaceDetection) Enqueue(frame gocv.Mat, region image.Rectangle) bool {
	return fd.enqueue(frame, region)
}

func (fd *FaceDetection) SubmitRequest() bool {
	return fd.submit()
}

func (fd *FaceDetection) FetchResults() bool {
	if fd.state != StateSubmitted {
		return false
	}
	regions, outs, ok := fd.fetchOutputs()
	if !ok {
		fd.results = nil
		return false
	}
	rows := outs[fd.model.OutputNames()[0]]
	results := make([]*FaceDetectionResult, 0, len(regions))
	for i, p := range regions {
		results = append(results, fd.decodeRegion(p.region, rows[i])...)
	}
	fd.results = results
	return true
}

// decodeRegion turns one region's SSD tensor into results. Box coordinates
// come back normalized to the cropped input; they are scaled by the region
// size and shifted by the region origin to land in frame space.
func (fd *FaceDetection) decodeRegion(region image.Rectangle, data []float32) []*FaceDetectionResult {
	labels := fd.model.Labels()
	var out []*FaceDetectionResult
	for off := 0; off+ssdRowLen <= len(data); off += ssdRowLen {
		if data[off] < 0 {
			break
		}
		conf := data[off+2]
		if conf < fd.threshold {
			continue
		}
		rect := image.Rect(
			region.Min.X+int(data[off+3]*float32(region.Dx())),
			region.Min.Y+int(data[off+4]*float32(region.Dy())),
			region.Min.X+int(data[off+5]*float32(region.Dx())),
			region.Min.Y+int(data[off+6]*float32(region.Dy())),
		).Intersect(region)
		if rect.Empty() {
			continue
		}
		r := newFaceDetectionResult(rect)
		r.label = int(data[off+1])
		if r.label >= 0 && r.label < len(labels) {
			r.labelName = labels[r.label]
		}
		r.confidence = conf
		out = append(out, r)
	}
	return out
}

func (fd *FaceDetection) ResultsLength() int { return len(fd.results) }

func (fd *FaceDetection) LocationResult(idx int) iface.Result {
	if idx < 0 || idx >= len(fd.results) {
		return nil
	}
	return fd.results[idx]
}

// Result returns the typed result at idx for callers that need more than the
// location, such as the pipeline's report builder.
func (fd *FaceDetection) Result(idx int) *FaceDetectionResult {
	if idx < 0 || idx >= len(fd.results) {
		return nil
	}
	return fd.results[idx]
}

func (fd *FaceDetection) Name() string { return fd.name }

func (fd *FaceDetection) ObserveOutput(out iface.Output) {
	if out == nil {
		return
	}
	rs := make([]iface.Result, len(fd.results))
	for i, r := range fd.results {
		rs[i] = r
	}
	out.Accept(fd.Name(), rs)
}
