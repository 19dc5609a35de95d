// Package recognition provides face detection and recognition functionality.
// It uses dlib/go-face for face detection, landmark extraction, and
// descriptor generation, and implements gallery matching on top.
package recognition

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/facemark/pkg/landmarks"
	"github.com/MrCodeEU/facemark/pkg/logging"
)

// Face represents a detected face in an image.
type Face struct {
	BoundingBox  Rectangle
	Landmarks    landmarks.FaceLandmarks
	HasLandmarks bool
	Descriptor   Descriptor
}

// Rectangle represents a bounding box.
type Rectangle struct {
	X, Y          int
	Width, Height int
}

// Area returns the box area, used for primary-face selection.
func (r Rectangle) Area() int {
	return r.Width * r.Height
}

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// FaceEngine abstracts the dlib recognizer for testability.
type FaceEngine interface {
	Recognize(data []byte) ([]face.Face, error)
	RecognizeFile(path string) ([]face.Face, error)
	Close()
}

// engineFactory creates a FaceEngine from a model directory.
type engineFactory func(modelPath string) (FaceEngine, error)

// dlibEngine adapts *face.Recognizer to FaceEngine.
type dlibEngine struct {
	rec *face.Recognizer
}

func (e *dlibEngine) Recognize(data []byte) ([]face.Face, error) {
	return e.rec.Recognize(data)
}

func (e *dlibEngine) RecognizeFile(path string) ([]face.Face, error) {
	return e.rec.RecognizeFile(path)
}

func (e *dlibEngine) Close() {
	e.rec.Close()
}

func newDlibEngine(modelPath string) (FaceEngine, error) {
	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return nil, err
	}
	return &dlibEngine{rec: rec}, nil
}

// DlibRecognizer implements face detection and descriptor extraction
// using dlib via go-face.
type DlibRecognizer struct {
	engine    FaceEngine
	factory   engineFactory
	modelPath string
	loaded    bool
	mu        sync.RWMutex
}

// NewRecognizer creates a new DlibRecognizer instance.
func NewRecognizer() *DlibRecognizer {
	return &DlibRecognizer{
		factory: newDlibEngine,
	}
}

// LoadModels loads the dlib face recognition models from the specified path.
// The path should contain:
// - shape_predictor_68_face_landmarks.dat (challenge geometry needs the full contour set)
// - dlib_face_recognition_resnet_model_v1.dat
func (r *DlibRecognizer) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s", modelPath)

	engine, err := r.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	r.engine = engine
	r.modelPath = modelPath
	r.loaded = true

	logging.Info("Face recognition models loaded successfully")
	return nil
}

// IsLoaded returns true if models are loaded.
func (r *DlibRecognizer) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Close releases the recognizer resources.
func (r *DlibRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		r.engine.Close()
		r.engine = nil
	}
	r.loaded = false
	return nil
}

// DetectFaces detects all faces in an image. The returned slice keeps
// the detector's order; an empty frame yields an empty slice, not an
// error, since face absence drives the liveness reset.
func (r *DlibRecognizer) DetectFaces(imageData []byte) ([]Face, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, ErrModelNotLoaded
	}

	found, err := r.engine.Recognize(imageData)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	result := make([]Face, len(found))
	for i, f := range found {
		result[i] = fromGoFace(f)
	}

	logging.Debugf("Detected %d face(s) in image", len(result))
	return result, nil
}

// DetectFacesInFile detects all faces in an image file. Used when
// building the gallery from reference images.
func (r *DlibRecognizer) DetectFacesInFile(path string) ([]Face, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, ErrModelNotLoaded
	}

	found, err := r.engine.RecognizeFile(path)
	if err != nil {
		return nil, fmt.Errorf("face detection failed for %s: %w", path, err)
	}

	result := make([]Face, len(found))
	for i, f := range found {
		result[i] = fromGoFace(f)
	}
	return result, nil
}

func fromGoFace(f face.Face) Face {
	rect := f.Rectangle
	grouped, ok := GroupShapes(f.Shapes)
	return Face{
		BoundingBox: Rectangle{
			X:      rect.Min.X,
			Y:      rect.Min.Y,
			Width:  rect.Dx(),
			Height: rect.Dy(),
		},
		Landmarks:    grouped,
		HasLandmarks: ok,
		Descriptor:   f.Descriptor,
	}
}

// dlib 68-point layout offsets for the groups the challenge geometry
// needs. TopLip follows the face_recognition ordering so index 0 and 6
// are the mouth corners.
var topLipIndices = []int{48, 49, 50, 51, 52, 53, 54, 64, 63, 62, 61, 60}

// GroupShapes converts a raw 68-point shape set into named landmark
// groups. ok is false when the predictor produced fewer points (for
// example the 5-point model), in which case the face is unusable for
// challenge evaluation but still fine for recognition.
func GroupShapes(shapes []image.Point) (landmarks.FaceLandmarks, bool) {
	if len(shapes) < 68 {
		return landmarks.FaceLandmarks{}, false
	}

	slice := func(from, to int) []landmarks.Point {
		out := make([]landmarks.Point, 0, to-from)
		for i := from; i < to; i++ {
			out = append(out, landmarks.Point{X: float64(shapes[i].X), Y: float64(shapes[i].Y)})
		}
		return out
	}

	topLip := make([]landmarks.Point, 0, len(topLipIndices))
	for _, i := range topLipIndices {
		topLip = append(topLip, landmarks.Point{X: float64(shapes[i].X), Y: float64(shapes[i].Y)})
	}

	return landmarks.FaceLandmarks{
		Chin:     slice(0, 17),
		NoseTip:  slice(31, 36),
		LeftEye:  slice(36, 42),
		RightEye: slice(42, 48),
		TopLip:   topLip,
	}, true
}
