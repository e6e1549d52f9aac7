package detector

import (
	"image"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/inference"
)

const (
	landmarkInput  = 192
	landmarkExpand = 1.5 // crop side relative to the longer box side
)

// Landmark106 detects 106 facial landmarks using insightface's 2d106det model
type Landmark106 struct {
	session *inference.Session
}

// NewLandmark106 creates a new 106-point landmark detector
func NewLandmark106(modelPath string, opts inference.Options, log zerolog.Logger) (*Landmark106, error) {
	session, err := inference.NewSession(modelPath, []string{"data"}, []string{"fc1"}, opts, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create landmark session")
	}
	return &Landmark106{session: session}, nil
}

// Detect fills face.Landmarks106 from a square crop around its box.
func (l *Landmark106) Detect(img gocv.Mat, face *Face) error {
	box := face.BoundingBox
	side := max(box.Width(), box.Height()) * landmarkExpand
	if side <= 0 {
		return errors.New("empty face box")
	}
	scale := float32(landmarkInput) / side
	center := box.Center()

	m := cropTransform(center, scale)
	defer m.Close()
	crop := gocv.NewMat()
	defer crop.Close()
	gocv.WarpAffine(img, &crop, m, image.Pt(landmarkInput, landmarkInput))

	blob := gocv.BlobFromImage(crop, 1.0/128, image.Pt(landmarkInput, landmarkInput),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()
	data, err := blob.DataPtrFloat32()
	if err != nil {
		return errors.Wrap(err, "failed to read landmark blob")
	}

	input, err := ort.NewTensor(ort.NewShape(1, 3, landmarkInput, landmarkInput), append([]float32(nil), data...))
	if err != nil {
		return errors.Wrap(err, "failed to create input tensor")
	}
	defer input.Destroy()

	output, err := inference.EmptyTensor[float32](1, 212)
	if err != nil {
		return err
	}
	defer output.Destroy()

	if err := l.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return err
	}

	lm := fromCrop(output.GetData(), center, scale)
	face.Landmarks106 = &lm
	return nil
}

// cropTransform maps the frame onto the model input, centred on c.
func cropTransform(c Point, scale float32) gocv.Mat {
	half := float64(landmarkInput) / 2
	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	m.SetDoubleAt(0, 0, float64(scale))
	m.SetDoubleAt(0, 1, 0)
	m.SetDoubleAt(0, 2, half-float64(c.X*scale))
	m.SetDoubleAt(1, 0, 0)
	m.SetDoubleAt(1, 1, float64(scale))
	m.SetDoubleAt(1, 2, half-float64(c.Y*scale))
	return m
}

// fromCrop maps model output in [-1,1] crop units back to frame pixels.
func fromCrop(out []float32, c Point, scale float32) Landmarks106 {
	var lm Landmarks106
	half := float32(landmarkInput) / 2
	for i := range lm {
		lm[i] = Point{
			X: out[2*i]*half/scale + c.X,
			Y: out[2*i+1]*half/scale + c.Y,
		}
	}
	return lm
}

// Close releases detector resources
func (l *Landmark106) Close() error {
	return l.session.Destroy()
}
