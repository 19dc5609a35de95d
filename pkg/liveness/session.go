// Package liveness implements the anti-spoofing challenge gate.
// Before recognition is allowed, the subject must complete a random
// pair of physical challenges (head turns, smiling) scored from
// landmark geometry, which defeats printed photos and static images.
package liveness

import (
	"math/rand"
	"time"

	"github.com/MrCodeEU/facemark/pkg/landmarks"
)

// Challenge is one physical action the subject must perform.
type Challenge int

const (
	TurnLeft Challenge = iota
	TurnRight
	Smile
)

// numChallenges is the size of the pool Sample draws from.
const numChallenges = 3

// String returns the prompt text shown to the subject.
func (c Challenge) String() string {
	switch c {
	case TurnLeft:
		return "Turn Head Left"
	case TurnRight:
		return "Turn Head Right"
	case Smile:
		return "Smile"
	default:
		return "Unknown"
	}
}

// State identifies where a session is in its lifecycle.
type State int

const (
	// StateAwaitingStart means no challenge pair is active; a new pair
	// starts on the next frame with a usable face.
	StateAwaitingStart State = iota
	// StateInChallenge means the subject is working through the pair.
	StateInChallenge
	// StateApproved is terminal until the face is lost.
	StateApproved
)

// String returns the overlay label for a state.
func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "Awaiting Face"
	case StateInChallenge:
		return "Challenge"
	case StateApproved:
		return "Liveness Approved"
	default:
		return "Unknown"
	}
}

// Config holds the tunable challenge parameters.
type Config struct {
	// HeadTurnThreshold is the relative nose displacement from the
	// baseline a head turn must exceed.
	HeadTurnThreshold float64
	// SmileThreshold is the absolute relative mouth width a smile must
	// exceed. Not baseline-relative.
	SmileThreshold float64
	// ConfirmationFrames consecutive satisfying frames pass a
	// challenge. A single non-satisfying frame resets the count.
	ConfirmationFrames int
	// GracePeriod after a challenge starts during which no evaluation
	// happens, letting the subject settle into a neutral pose.
	GracePeriod time.Duration
	// Timeout after which the whole session resets.
	Timeout time.Duration
}

// DefaultConfig returns the standard challenge parameters.
func DefaultConfig() Config {
	return Config{
		HeadTurnThreshold:  0.3,
		SmileThreshold:     0.7,
		ConfirmationFrames: 5,
		GracePeriod:        500 * time.Millisecond,
		Timeout:            10 * time.Second,
	}
}

// Session is one liveness attempt. It consumes the primary face's
// FaceState once per frame via Observe and is owned by a single
// processing goroutine; it is not safe for concurrent use.
type Session struct {
	cfg Config
	rng *rand.Rand
	now func() time.Time

	state         State
	sequence      []Challenge
	index         int
	baseline      landmarks.FaceState
	confirmations int
	startedAt     time.Time
}

// NewSession creates a session in StateAwaitingStart.
func NewSession(cfg Config) *Session {
	return &Session{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
}

// Observe advances the state machine with one frame's observation.
// face is the primary face's state, or nil when no usable face was
// detected this frame (absence forces a full reset, Approved
// included — the subject must redo the challenges after losing the
// camera).
func (s *Session) Observe(face *landmarks.FaceState) {
	if face == nil {
		s.reset()
		return
	}

	switch s.state {
	case StateApproved:
		return
	case StateAwaitingStart:
		s.begin(*face)
		return
	}

	elapsed := s.now().Sub(s.startedAt)

	// Order matters: grace first, timeout second, evaluation third.
	if elapsed <= s.cfg.GracePeriod {
		return
	}
	if elapsed > s.cfg.Timeout {
		s.reset()
		return
	}

	if s.satisfied(*face) {
		s.confirmations++
	} else {
		s.confirmations = 0
	}

	if s.confirmations >= s.cfg.ConfirmationFrames {
		s.pass(*face)
	}
}

// begin samples a fresh challenge pair and baselines on the current face.
func (s *Session) begin(face landmarks.FaceState) {
	s.sequence = s.sample()
	s.index = 0
	s.baseline = face
	s.confirmations = 0
	s.startedAt = s.now()
	s.state = StateInChallenge
}

// sample draws 2 distinct challenges; order matters, so all 6
// permutations of 2-of-3 are reachable.
func (s *Session) sample() []Challenge {
	perm := s.rng.Perm(numChallenges)
	return []Challenge{Challenge(perm[0]), Challenge(perm[1])}
}

// satisfied evaluates the current challenge predicate against the
// session baseline.
func (s *Session) satisfied(face landmarks.FaceState) bool {
	switch s.sequence[s.index] {
	case TurnLeft:
		return face.RelativeNoseX < s.baseline.RelativeNoseX-s.cfg.HeadTurnThreshold
	case TurnRight:
		return face.RelativeNoseX > s.baseline.RelativeNoseX+s.cfg.HeadTurnThreshold
	case Smile:
		return face.RelativeMouthWidth > s.cfg.SmileThreshold
	default:
		return false
	}
}

// pass records the current challenge as completed and either advances
// to the next one (re-baselined on the current frame) or approves.
func (s *Session) pass(face landmarks.FaceState) {
	s.index++
	if s.index >= len(s.sequence) {
		s.state = StateApproved
		return
	}
	s.baseline = face
	s.confirmations = 0
	s.startedAt = s.now()
}

// reset discards all progress. No partial credit survives.
func (s *Session) reset() {
	s.state = StateAwaitingStart
	s.sequence = nil
	s.index = 0
	s.confirmations = 0
	s.baseline = landmarks.FaceState{}
	s.startedAt = time.Time{}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Approved reports whether both challenges have been confirmed.
func (s *Session) Approved() bool {
	return s.state == StateApproved
}

// Current returns the active challenge, if any.
func (s *Session) Current() (Challenge, bool) {
	if s.state != StateInChallenge {
		return 0, false
	}
	return s.sequence[s.index], true
}

// Prompt returns the overlay text for the current frame.
func (s *Session) Prompt() string {
	if c, ok := s.Current(); ok {
		return "Challenge: " + c.String()
	}
	return s.state.String()
}

// Sequence returns a copy of the sampled challenge pair.
func (s *Session) Sequence() []Challenge {
	out := make([]Challenge, len(s.sequence))
	copy(out, s.sequence)
	return out
}
