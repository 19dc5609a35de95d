// Package pipeline runs the per-frame attendance flow: detect faces,
// drive the liveness session with the primary face, and once liveness
// is approved, match every face against the gallery and mark the
// recognized ones present.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/MrCodeEU/facemark/pkg/attendance"
	"github.com/MrCodeEU/facemark/pkg/camera"
	"github.com/MrCodeEU/facemark/pkg/landmarks"
	"github.com/MrCodeEU/facemark/pkg/liveness"
	"github.com/MrCodeEU/facemark/pkg/logging"
	"github.com/MrCodeEU/facemark/pkg/recognition"
)

// Detector is the slice of the recognizer the pipeline needs.
type Detector interface {
	DetectFaces(data []byte) ([]recognition.Face, error)
}

// Marker records attendance. *attendance.Ledger satisfies it.
type Marker interface {
	Record(name string, now time.Time) (attendance.Status, error)
}

// FaceOverlay is one face box with its display label, for rendering.
type FaceOverlay struct {
	Box   recognition.Rectangle
	Label string
	// JustMarked is true on the frame where this face's attendance row
	// was appended.
	JustMarked bool
}

// FrameResult is everything the display layer needs for one frame.
type FrameResult struct {
	Prompt   string
	State    liveness.State
	Approved bool
	Faces    []FaceOverlay
}

// Pipeline owns one liveness session and feeds the ledger. Not safe
// for concurrent use; frames flow through a single goroutine.
type Pipeline struct {
	detector  Detector
	session   *liveness.Session
	ledger    Marker
	gallery   []recognition.KnownIdentity
	tolerance float64
	now       func() time.Time

	// OnResult, when set, receives every frame's result. The display
	// overlay hooks in here.
	OnResult func(FrameResult)
}

// New creates a pipeline. The gallery may be empty; everyone is then
// labeled unrecognized.
func New(detector Detector, session *liveness.Session, ledger Marker, gallery []recognition.KnownIdentity, tolerance float64) *Pipeline {
	return &Pipeline{
		detector:  detector,
		session:   session,
		ledger:    ledger,
		gallery:   gallery,
		tolerance: tolerance,
		now:       time.Now,
	}
}

// ProcessFrame runs one frame through the flow. Detection errors abort
// the frame without touching the session; a frame with no usable face
// is a valid observation that resets it.
func (p *Pipeline) ProcessFrame(data []byte) (FrameResult, error) {
	faces, err := p.detector.DetectFaces(data)
	if err != nil {
		return FrameResult{}, err
	}

	primary := primaryFace(faces)
	if primary == nil || !primary.HasLandmarks {
		p.session.Observe(nil)
	} else {
		state := landmarks.Extract(primary.Landmarks)
		p.session.Observe(&state)
	}

	result := FrameResult{
		Prompt:   p.session.Prompt(),
		State:    p.session.State(),
		Approved: p.session.Approved(),
	}

	for i := range faces {
		overlay := FaceOverlay{Box: faces[i].BoundingBox}
		if result.Approved {
			overlay.Label, overlay.JustMarked = p.identify(faces[i].Descriptor)
		}
		result.Faces = append(result.Faces, overlay)
	}

	return result, nil
}

// identify matches one descriptor and marks attendance on a hit.
func (p *Pipeline) identify(d recognition.Descriptor) (label string, justMarked bool) {
	m := recognition.Match(d, p.gallery, p.tolerance)
	if !m.Recognized {
		return m.Name, false
	}

	status, err := p.ledger.Record(m.Name, p.now())
	if err != nil {
		logging.WithError(err).WithField("name", m.Name).Error("Failed to record attendance")
		return m.Name, false
	}
	return m.Name, status == attendance.Marked
}

// primaryFace picks the face driving the liveness session: the largest
// bounding box, earlier detector order winning ties.
func primaryFace(faces []recognition.Face) *recognition.Face {
	var best *recognition.Face
	for i := range faces {
		if best == nil || faces[i].BoundingBox.Area() > best.BoundingBox.Area() {
			best = &faces[i]
		}
	}
	return best
}

// Run consumes the source until the context ends or the source is
// exhausted. Per-frame detection errors are logged and skipped; the
// loop only stops for terminal conditions.
func (p *Pipeline) Run(ctx context.Context, source camera.Source) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := source.ReadFrame()
		if err != nil {
			if errors.Is(err, camera.ErrNoFrame) {
				return nil
			}
			return err
		}

		result, err := p.ProcessFrame(frame.Data)
		if err != nil {
			logging.WithError(err).Warn("Frame processing failed")
			continue
		}

		if p.OnResult != nil {
			p.OnResult(result)
		}
	}
}
