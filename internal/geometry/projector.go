package geometry

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Projector resamples frame content into the Size×Size normalized patch and
// back.
type Projector struct {
	Size int
}

// NewProjector creates a projector for an n×n normalized patch.
func NewProjector(n int) *Projector {
	return &Projector{Size: n}
}

// Placement is normalized content warped back into frame space. Color and
// Alpha cover only Rect, the part of the frame the quad can touch; every
// frame pixel outside Rect has zero alpha.
type Placement struct {
	Rect  image.Rectangle
	Color gocv.Mat // CV_32FC3
	Alpha gocv.Mat // CV_32FC1
}

// Close releases the warped buffers.
func (p *Placement) Close() {
	p.Color.Close()
	p.Alpha.Close()
}

// WarpToNormalized samples the quad region of frame into a Size×Size patch
// using bilinear interpolation. Source reads outside the frame are black.
// On error the returned Mat is empty and must not be used.
func (p *Projector) WarpToNormalized(frame gocv.Mat, q Quad) (gocv.Mat, error) {
	h, err := ForwardHomography(q, p.Size)
	if err != nil {
		return gocv.Mat{}, err
	}
	m := h.Mat()
	defer m.Close()

	patch := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(frame, &patch, m, image.Pt(p.Size, p.Size),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
	return patch, nil
}

// WarpFromNormalized maps a normalized 3-channel patch and its alpha mask
// back onto the quad in a frame of the given size. Colour and alpha are
// merged into one 4-channel image and warped by a single call, so both are
// resampled at identical sub-pixel positions.
func (p *Projector) WarpFromNormalized(patch, alpha gocv.Mat, q Quad, outputSize image.Point) (*Placement, error) {
	h, err := InverseHomography(q, p.Size)
	if err != nil {
		return nil, err
	}

	rect := q.Bounds().Intersect(image.Rect(0, 0, outputSize.X, outputSize.Y))
	if rect.Empty() {
		return &Placement{Rect: rect, Color: gocv.NewMat(), Alpha: gocv.NewMat()}, nil
	}

	colour := gocv.NewMat()
	defer colour.Close()
	patch.ConvertTo(&colour, gocv.MatTypeCV32F)

	planes := gocv.Split(colour)
	joint := gocv.NewMat()
	defer joint.Close()
	gocv.Merge(append(planes, alpha), &joint)
	closeAll(planes)

	// Shift the output origin to the top-left of rect.
	m := h.Translate(-float64(rect.Min.X), -float64(rect.Min.Y)).Mat()
	defer m.Close()

	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpPerspectiveWithParams(joint, &warped, m, rect.Size(),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})

	parts := gocv.Split(warped)
	out := &Placement{Rect: rect, Color: gocv.NewMat(), Alpha: parts[3]}
	gocv.Merge(parts[:3], &out.Color)
	closeAll(parts[:3])
	return out, nil
}

func closeAll(mats []gocv.Mat) {
	for i := range mats {
		mats[i].Close()
	}
}
