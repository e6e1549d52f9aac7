package detector

import (
	"math"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/inference"
	"github.com/dudu/mouthless/internal/position"
)

const (
	// DefaultPad enlarges the measured lip extent on both axes.
	DefaultPad = 0.3

	minWidthShare  = 0.05 // of the frame width
	minHeightShare = 0.03 // of the frame height

	// fivePointHeight is the lip height relative to the corner distance
	// when only the SCRFD keypoints are available.
	fivePointHeight = 0.35
)

// Options configures a MouthTracker.
type Options struct {
	SCRFDModel    string
	LandmarkModel string // optional; five-point fallback when empty
	DetectionSize int
	ConfThreshold float32
	NMSThreshold  float32
	Pad           float64
	Inference     inference.Options
}

// DefaultOptions returns the models under models/ with insightface's usual
// thresholds.
func DefaultOptions() Options {
	return Options{
		SCRFDModel:    "models/det_10g.onnx",
		LandmarkModel: "models/2d106det.onnx",
		DetectionSize: 640,
		ConfThreshold: 0.5,
		NMSThreshold:  0.4,
		Pad:           DefaultPad,
	}
}

// MouthTracker reduces the best face of every frame to a mouth record.
// ONNX Runtime must be initialized before NewMouthTracker.
type MouthTracker struct {
	faces     *SCRFD
	landmarks *Landmark106
	pad       float64
	log       zerolog.Logger
}

// NewMouthTracker loads the detection models.
func NewMouthTracker(opts Options, log zerolog.Logger) (*MouthTracker, error) {
	log = log.With().Str("component", "detector").Logger()

	faces, err := NewSCRFD(opts.SCRFDModel, opts.DetectionSize, opts.ConfThreshold, opts.NMSThreshold, opts.Inference, log)
	if err != nil {
		return nil, err
	}
	t := &MouthTracker{faces: faces, pad: opts.Pad, log: log}

	if opts.LandmarkModel != "" {
		t.landmarks, err = NewLandmark106(opts.LandmarkModel, opts.Inference, log)
		if err != nil {
			faces.Close()
			return nil, err
		}
	} else {
		log.Warn().Msg("no landmark model, mouth size estimated from five keypoints")
	}
	return t, nil
}

// Track detects the mouth in one frame. A frame without a face yields a
// zero-confidence record and no error.
func (t *MouthTracker) Track(frame gocv.Mat, frameIndex int) (position.Record, error) {
	faces, err := t.faces.Detect(frame)
	if err != nil {
		return position.Record{}, errors.Wrapf(err, "face detection failed on frame %d", frameIndex)
	}
	if len(faces) == 0 {
		return position.Record{}, nil
	}
	face := faces[0]

	if t.landmarks != nil {
		if err := t.landmarks.Detect(frame, &face); err != nil {
			t.log.Debug().Err(err).Int("frame", frameIndex).Msg("landmarks failed, using keypoints")
		}
	}

	rec, ok := MouthFromFace(face, frame.Cols(), frame.Rows(), t.pad)
	if !ok {
		return position.Record{}, nil
	}
	return rec, nil
}

// Close releases both models.
func (t *MouthTracker) Close() error {
	err := t.faces.Close()
	if t.landmarks != nil {
		if lerr := t.landmarks.Close(); err == nil {
			err = lerr
		}
	}
	return err
}

// MouthFromFace measures the mouth of a face: centre of the lip points,
// corner distance for the width, lip extent across the corner axis for the
// height, both padded and floored at a share of the frame, and rotation
// from the eye line.
func MouthFromFace(face Face, frameW, frameH int, pad float64) (position.Record, bool) {
	var (
		center, left, right, eyeL, eyeR Point
		height                          float64
	)
	if lm := face.Landmarks106; lm != nil {
		center = lm.Centroid(mouthIndices)
		left, right = lm[mouthLeftCorner], lm[mouthRightCorner]
		eyeL, eyeR = lm.Centroid(leftEyeIndices), lm.Centroid(rightEyeIndices)
		height = extentAcross(lm, mouthIndices, left, right)
	} else {
		k := face.Landmarks
		left, right = k.LeftMouth, k.RightMouth
		center = Point{X: (left.X + right.X) / 2, Y: (left.Y + right.Y) / 2}
		eyeL, eyeR = k.LeftEye, k.RightEye
		height = distance(left, right) * fivePointHeight
	}

	width := distance(left, right)
	if !finite(width, height, float64(center.X), float64(center.Y)) {
		return position.Record{}, false
	}
	width = max(width*(1+pad), float64(frameW)*minWidthShare)
	height = max(height*(1+pad), float64(frameH)*minHeightShare)

	return position.Record{
		CenterX:    float64(center.X),
		CenterY:    float64(center.Y),
		Width:      width,
		Height:     height,
		Rotation:   eyeAngle(eyeL, eyeR),
		Confidence: position.ConfidenceDetected,
	}, true
}

// eyeAngle is the tilt of the line from the image-left eye to the
// image-right eye in degrees, clockwise positive.
func eyeAngle(l, r Point) float64 {
	return math.Atan2(float64(r.Y-l.Y), float64(r.X-l.X)) * 180 / math.Pi
}

// extentAcross measures the points at indices along the normal of the
// a-b axis.
func extentAcross(lm *Landmarks106, indices []int, a, b Point) float64 {
	dx, dy := float64(b.X-a.X), float64(b.Y-a.Y)
	n := math.Hypot(dx, dy)
	if n == 0 {
		return 0
	}
	nx, ny := -dy/n, dx/n
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range indices {
		d := float64(lm[i].X)*nx + float64(lm[i].Y)*ny
		lo, hi = min(lo, d), max(hi, d)
	}
	return hi - lo
}

func distance(a, b Point) float64 {
	return math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
