package detector

import (
	"image"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/mouthless/internal/inference"
)

var (
	scrfdStrides = [3]int{8, 16, 32}
	scrfdOutputs = []string{
		"score_8", "score_16", "score_32",
		"bbox_8", "bbox_16", "bbox_32",
		"kps_8", "kps_16", "kps_32",
	}
)

const scrfdAnchors = 2 // anchors per feature map cell

// SCRFD implements the SCRFD face detector
type SCRFD struct {
	session       *inference.Session
	inputSize     int
	confThreshold float32
	nmsThreshold  float32
}

// NewSCRFD loads an SCRFD model taking square inputs of inputSize pixels.
func NewSCRFD(modelPath string, inputSize int, confThreshold, nmsThreshold float32, opts inference.Options, log zerolog.Logger) (*SCRFD, error) {
	if inputSize <= 0 || inputSize%32 != 0 {
		return nil, errors.Errorf("detection size %d is not a positive multiple of 32", inputSize)
	}
	session, err := inference.NewSession(modelPath, []string{"input.1"}, scrfdOutputs, opts, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create SCRFD session")
	}
	return &SCRFD{
		session:       session,
		inputSize:     inputSize,
		confThreshold: confThreshold,
		nmsThreshold:  nmsThreshold,
	}, nil
}

// Detect returns the faces in img, best first.
func (s *SCRFD) Detect(img gocv.Mat) ([]Face, error) {
	input, scale, err := s.preprocess(img)
	if err != nil {
		return nil, err
	}
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(s.inputSize), int64(s.inputSize)), input)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}
	defer inputTensor.Destroy()

	outputs := make([]*ort.Tensor[float32], len(scrfdOutputs))
	defer func() {
		for _, t := range outputs {
			if t != nil {
				t.Destroy()
			}
		}
	}()
	values := make([]ort.Value, len(outputs))
	for level, stride := range scrfdStrides {
		cells := int64(s.inputSize/stride) * int64(s.inputSize/stride) * scrfdAnchors
		for k, width := range []int64{1, 4, 10} {
			t, err := inference.EmptyTensor[float32](cells, width)
			if err != nil {
				return nil, err
			}
			outputs[level+3*k] = t
			values[level+3*k] = t
		}
	}

	if err := s.session.Run([]ort.Value{inputTensor}, values); err != nil {
		return nil, err
	}

	faces := s.decode(outputs, scale, img.Cols(), img.Rows())
	return nms(faces, s.nmsThreshold), nil
}

// preprocess letterboxes img into the top-left of the model input and
// returns the NCHW blob with the scale applied to the frame.
func (s *SCRFD) preprocess(img gocv.Mat) ([]float32, float32, error) {
	scale := float32(s.inputSize) / float32(max(img.Rows(), img.Cols()))
	w := int(float32(img.Cols()) * scale)
	h := int(float32(img.Rows()) * scale)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), s.inputSize, s.inputSize, gocv.MatTypeCV8UC3)
	defer padded.Close()
	roi := padded.Region(image.Rect(0, 0, w, h))
	resized.CopyTo(&roi)
	roi.Close()

	// (x - 127.5) / 128 in RGB order
	blob := gocv.BlobFromImage(padded, 1.0/128, image.Pt(s.inputSize, s.inputSize),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to read input blob")
	}
	return append([]float32(nil), data...), scale, nil
}

// decode turns anchor distances into faces in frame coordinates.
func (s *SCRFD) decode(outputs []*ort.Tensor[float32], scale float32, frameW, frameH int) []Face {
	var faces []Face
	for level, stride := range scrfdStrides {
		scores := outputs[level].GetData()
		boxes := outputs[level+3].GetData()
		kps := outputs[level+6].GetData()
		cells := s.inputSize / stride
		st := float32(stride)

		anchor := 0
		for y := range cells {
			for x := range cells {
				for range scrfdAnchors {
					score := scores[anchor] // already a probability
					if score > s.confThreshold {
						cx := float32(x) * st
						cy := float32(y) * st
						b := boxes[anchor*4 : anchor*4+4]
						k := kps[anchor*10 : anchor*10+10]
						at := func(i int) Point {
							return Point{X: (cx + k[2*i]*st) / scale, Y: (cy + k[2*i+1]*st) / scale}
						}
						faces = append(faces, Face{
							BoundingBox: BoundingBox{
								X1: clamp((cx-b[0]*st)/scale, 0, float32(frameW)),
								Y1: clamp((cy-b[1]*st)/scale, 0, float32(frameH)),
								X2: clamp((cx+b[2]*st)/scale, 0, float32(frameW)),
								Y2: clamp((cy+b[3]*st)/scale, 0, float32(frameH)),
							},
							Landmarks: Landmarks{
								LeftEye:    at(0),
								RightEye:   at(1),
								Nose:       at(2),
								LeftMouth:  at(3),
								RightMouth: at(4),
							},
							Score: score,
						})
					}
					anchor++
				}
			}
		}
	}
	return faces
}

// Close releases detector resources
func (s *SCRFD) Close() error {
	return s.session.Destroy()
}

func clamp(x, lo, hi float32) float32 {
	return min(max(x, lo), hi)
}
