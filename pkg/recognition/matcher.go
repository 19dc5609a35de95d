package recognition

import "math"

// UnrecognizedLabel is the sentinel shown for a face that failed to
// match any gallery identity within tolerance.
const UnrecognizedLabel = "Disapproved"

// DefaultTolerance is the maximum descriptor distance at which a
// candidate counts as the same person.
const DefaultTolerance = 0.50

// KnownIdentity pairs a name with a reference descriptor. Loaded once
// at startup and immutable during a run.
type KnownIdentity struct {
	Name       string     `json:"name"`
	Descriptor Descriptor `json:"descriptor"`
}

// MatchResult is the outcome of matching one probe descriptor against
// the gallery.
type MatchResult struct {
	// Name is the matched identity, or UnrecognizedLabel.
	Name string
	// Distance to the nearest gallery entry; MaxFloat64 for an empty
	// gallery.
	Distance float64
	// Recognized is true only when the nearest candidate is within
	// tolerance. Nearest-but-too-far is still a rejection.
	Recognized bool
}

// Match finds the best gallery match for a probe descriptor. An empty
// gallery is not an error; it simply never recognizes anyone.
func Match(probe Descriptor, gallery []KnownIdentity, tolerance float64) MatchResult {
	if len(gallery) == 0 {
		return MatchResult{Name: UnrecognizedLabel, Distance: math.MaxFloat64}
	}

	bestIdx := 0
	bestDist := math.MaxFloat64

	for i, known := range gallery {
		dist := EuclideanDistance(probe, known.Descriptor)
		if dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}

	if bestDist > tolerance {
		return MatchResult{Name: UnrecognizedLabel, Distance: bestDist}
	}

	return MatchResult{
		Name:       gallery[bestIdx].Name,
		Distance:   bestDist,
		Recognized: true,
	}
}

// EuclideanDistance calculates the Euclidean distance between two
// descriptors, the metric dlib's resnet descriptors are trained for.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	if len(d1) != len(d2) {
		return math.MaxFloat64
	}

	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
