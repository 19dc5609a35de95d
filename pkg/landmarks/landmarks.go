// Package landmarks converts raw facial landmark point groups into
// scale-invariant geometric ratios used by the liveness challenges.
package landmarks

import "math"

// epsilon guards the nose normalization against a near-zero
// denominator on near-frontal faces where chin.X ~ centerX.
const epsilon = 1e-6

// Point is a 2D landmark coordinate in image space.
type Point struct {
	X, Y float64
}

// FaceLandmarks holds the named landmark groups for one detected face
// in one frame. Groups follow the dlib 68-point layout: NoseTip[0] is
// the tip, Chin[8] the jaw midpoint, LeftEye[0]/RightEye[3] the outer
// eye corners, TopLip[0]/TopLip[6] the mouth corners. Produced fresh
// each frame, never persisted.
type FaceLandmarks struct {
	NoseTip  []Point
	Chin     []Point
	LeftEye  []Point
	RightEye []Point
	TopLip   []Point
}

// FaceState is a derived scalar snapshot of a face. Both values are
// dimensionless ratios, stable under uniform scaling and translation
// of the face in the image.
type FaceState struct {
	RelativeNoseX      float64
	RelativeMouthWidth float64
}

// at indexes a group, clamping to the last point so shorter contours
// from a different predictor still yield a usable state.
func at(pts []Point, i int) Point {
	if i >= len(pts) {
		return pts[len(pts)-1]
	}
	return pts[i]
}

// Extract computes the FaceState for one face. Pure; assumes the
// landmark groups are non-empty, which the detector guarantees
// whenever it reports a face.
func Extract(l FaceLandmarks) FaceState {
	noseTip := at(l.NoseTip, 0)
	chin := at(l.Chin, 8)
	leftEyeOuter := at(l.LeftEye, 0)
	rightEyeOuter := at(l.RightEye, 3)

	centerX := (leftEyeOuter.X + rightEyeOuter.X) / 2

	mouthLeft := at(l.TopLip, 0)
	mouthRight := at(l.TopLip, 6)

	eyeSpan := distance(leftEyeOuter, rightEyeOuter)
	mouthWidth := distance(mouthLeft, mouthRight)

	return FaceState{
		RelativeNoseX:      (noseTip.X - centerX) / (chin.X - centerX + epsilon),
		RelativeMouthWidth: mouthWidth / eyeSpan,
	}
}

func distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
