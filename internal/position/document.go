package position

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Document is the serialized positions file: video metadata plus one
// record per frame. Conditioned documents list the frames that stayed
// undetected, since per-frame confidence is not written.
type Document struct {
	RunID           string    `json:"runId,omitempty"`
	VideoFileName   string    `json:"videoFileName,omitempty"`
	VideoWidth      int       `json:"videoWidth"`
	VideoHeight     int       `json:"videoHeight"`
	FrameRate       float64   `json:"frameRate"`
	TotalFrames     int       `json:"totalFrames"`
	DurationSeconds float64   `json:"durationSeconds"`
	Positions       []Record  `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`

	Conditioned      bool  `json:"conditioned,omitempty"`
	UndetectedFrames []int `json:"undetectedFrames,omitempty"`
}

// emitted is the flat per-frame form written to disk. Confidence is resolved
// by conditioning and is not emitted.
type emitted struct {
	FrameIndex int     `json:"frameIndex"`
	CenterX    float64 `json:"centerX"`
	CenterY    float64 `json:"centerY"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Rotation   float64 `json:"rotation"`
}

// loaded accepts both the emitted form and raw detector output that still
// carries timeSeconds and confidence.
type loaded struct {
	FrameIndex  int      `json:"frameIndex"`
	TimeSeconds float64  `json:"timeSeconds"`
	CenterX     float64  `json:"centerX"`
	CenterY     float64  `json:"centerY"`
	Width       float64  `json:"width"`
	Height      float64  `json:"height"`
	Rotation    float64  `json:"rotation"`
	Confidence  *float64 `json:"confidence"`
}

type documentJSON struct {
	Document
	Positions []emitted `json:"positions"`
}

type documentInJSON struct {
	Document
	Positions []loaded `json:"positions"`
}

// NewDocument builds a document for the given stream.
func NewDocument(name string, width, height int, fps float64, records []Record) *Document {
	var duration float64
	if fps > 0 {
		duration = roundTo(float64(len(records))/fps, 4)
	}
	return &Document{
		VideoFileName:   name,
		VideoWidth:      width,
		VideoHeight:     height,
		FrameRate:       fps,
		TotalFrames:     len(records),
		DurationSeconds: duration,
		Positions:       records,
		CreatedAt:       time.Now().UTC(),
	}
}

// Encode writes the document as indented JSON.
func (d *Document) Encode(w io.Writer) error {
	out := documentJSON{Document: *d, Positions: make([]emitted, len(d.Positions))}
	out.UndetectedFrames = nil
	for i, r := range d.Positions {
		if !r.Valid() {
			out.UndetectedFrames = append(out.UndetectedFrames, r.FrameIndex)
		}
		out.Positions[i] = emitted{
			FrameIndex: r.FrameIndex,
			CenterX:    r.CenterX,
			CenterY:    r.CenterY,
			Width:      r.Width,
			Height:     r.Height,
			Rotation:   r.Rotation,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return errors.Wrap(err, "failed to encode positions document")
	}
	return nil
}

// Save writes the document to path.
func (d *Document) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := d.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Decode reads a positions document. Frames listed in undetectedFrames get
// confidence 0; other records without a confidence field are treated as
// detections.
func Decode(r io.Reader) (*Document, error) {
	var in documentInJSON
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, errors.Wrap(err, "failed to decode positions document")
	}

	undetected := make(map[int]bool, len(in.UndetectedFrames))
	for _, i := range in.UndetectedFrames {
		undetected[i] = true
	}

	doc := in.Document
	doc.Positions = make([]Record, len(in.Positions))
	for i, p := range in.Positions {
		conf := ConfidenceDetected
		switch {
		case undetected[p.FrameIndex]:
			conf = 0
		case p.Confidence != nil:
			conf = *p.Confidence
		}
		t := p.TimeSeconds
		if t == 0 && doc.FrameRate > 0 {
			t = roundTo(float64(p.FrameIndex)/doc.FrameRate, 4)
		}
		doc.Positions[i] = Record{
			FrameIndex:  p.FrameIndex,
			TimeSeconds: t,
			CenterX:     p.CenterX,
			CenterY:     p.CenterY,
			Width:       p.Width,
			Height:      p.Height,
			Rotation:    p.Rotation,
			Confidence:  conf,
		}
	}
	return &doc, nil
}

// Load reads a positions document from path.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	return Decode(f)
}

// Align returns one record per frame in [0, n), taking records from the
// document by frame index. Frames the document does not cover get
// placeholders from Default.
func (d *Document) Align(n int, fps float64, frameW, frameH int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Default(i, fps, frameW, frameH)
	}
	for _, r := range d.Positions {
		if r.FrameIndex < 0 || r.FrameIndex >= n {
			continue
		}
		out[r.FrameIndex] = r
	}
	return out
}

func roundTo(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}
