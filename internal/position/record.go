package position

// Record is the mouth geometry estimate for one decoded frame.
// Width and Height are measured before rotation is applied.
type Record struct {
	FrameIndex  int     `json:"frameIndex"`
	TimeSeconds float64 `json:"timeSeconds"`
	CenterX     float64 `json:"centerX"`
	CenterY     float64 `json:"centerY"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Rotation    float64 `json:"rotation"` // degrees, positive = clockwise (y-down)
	Confidence  float64 `json:"confidence"`
}

// Confidence levels assigned while conditioning the stream.
const (
	ConfidenceDetected     = 1.0
	ConfidenceInterpolated = 0.5
	ConfidenceCopied       = 0.3
)

// Valid reports whether the record carries a usable estimate.
func (r Record) Valid() bool {
	return r.Confidence > 0
}

// fields exposes the five tracked scalars for per-field processing.
func (r *Record) fields() [5]*float64 {
	return [5]*float64{&r.CenterX, &r.CenterY, &r.Width, &r.Height, &r.Rotation}
}

// Default returns the placeholder record used for frames where the detector
// was not run or failed: lower-middle of the frame, confidence 0.
func Default(frameIndex int, fps float64, frameW, frameH int) Record {
	var t float64
	if fps > 0 {
		t = roundTo(float64(frameIndex)/fps, 4)
	}
	return Record{
		FrameIndex:  frameIndex,
		TimeSeconds: t,
		CenterX:     float64(frameW) / 2,
		CenterY:     float64(frameH) * 0.7,
		Width:       float64(frameW) * 0.2,
		Height:      float64(frameH) * 0.1,
	}
}

// validIndices returns the indices of records with confidence > 0.
func validIndices(records []Record) []int {
	idx := make([]int, 0, len(records))
	for i, r := range records {
		if r.Valid() {
			idx = append(idx, i)
		}
	}
	return idx
}

// CountValid returns how many records carry a usable estimate.
func CountValid(records []Record) int {
	return len(validIndices(records))
}
