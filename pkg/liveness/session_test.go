package liveness

import (
	"math/rand"
	"testing"
	"time"

	"github.com/MrCodeEU/facemark/pkg/landmarks"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// newTestSession returns a session with a deterministic RNG and a
// controllable clock.
func newTestSession(seed int64) (*Session, *fakeClock) {
	s := NewSession(DefaultConfig())
	s.rng = rand.New(rand.NewSource(seed))
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	return s, clock
}

func neutralFace() *landmarks.FaceState {
	return &landmarks.FaceState{RelativeNoseX: 0.1, RelativeMouthWidth: 0.4}
}

// satisfyingFace builds a state that satisfies the session's current
// challenge relative to its baseline.
func satisfyingFace(s *Session) *landmarks.FaceState {
	c, ok := s.Current()
	if !ok {
		return neutralFace()
	}
	face := s.baseline
	switch c {
	case TurnLeft:
		face.RelativeNoseX = s.baseline.RelativeNoseX - 0.5
	case TurnRight:
		face.RelativeNoseX = s.baseline.RelativeNoseX + 0.5
	case Smile:
		face.RelativeMouthWidth = 0.9
	}
	return &face
}

// startSession drives a session into the evaluation window of its
// first challenge.
func startSession(s *Session, clock *fakeClock) {
	s.Observe(neutralFace())
	clock.advance(600 * time.Millisecond)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.HeadTurnThreshold != 0.3 {
		t.Errorf("expected head turn threshold 0.3, got %f", cfg.HeadTurnThreshold)
	}
	if cfg.SmileThreshold != 0.7 {
		t.Errorf("expected smile threshold 0.7, got %f", cfg.SmileThreshold)
	}
	if cfg.ConfirmationFrames != 5 {
		t.Errorf("expected 5 confirmation frames, got %d", cfg.ConfirmationFrames)
	}
	if cfg.GracePeriod != 500*time.Millisecond {
		t.Errorf("expected 500ms grace period, got %v", cfg.GracePeriod)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.Timeout)
	}
}

func TestSession_StartsOnFace(t *testing.T) {
	s, _ := newTestSession(1)

	if s.State() != StateAwaitingStart {
		t.Fatalf("expected AwaitingStart, got %v", s.State())
	}

	s.Observe(neutralFace())

	if s.State() != StateInChallenge {
		t.Errorf("expected InChallenge after first face, got %v", s.State())
	}
	if len(s.Sequence()) != 2 {
		t.Errorf("expected 2 challenges, got %d", len(s.Sequence()))
	}
}

func TestSession_SampleDistinctPairs(t *testing.T) {
	seen := make(map[[2]Challenge]bool)

	for seed := int64(0); seed < 200; seed++ {
		s, _ := newTestSession(seed)
		s.Observe(neutralFace())

		seq := s.Sequence()
		if len(seq) != 2 {
			t.Fatalf("seed %d: expected 2 challenges, got %d", seed, len(seq))
		}
		if seq[0] == seq[1] {
			t.Fatalf("seed %d: sampled duplicate challenge %v", seed, seq[0])
		}
		seen[[2]Challenge{seq[0], seq[1]}] = true
	}

	// All 6 ordered pairs of 2-of-3 should show up over 200 seeds.
	if len(seen) != 6 {
		t.Errorf("expected all 6 permutations reachable, saw %d: %v", len(seen), seen)
	}
}

func TestSession_GracePeriodSkipsEvaluation(t *testing.T) {
	s, clock := newTestSession(1)
	s.Observe(neutralFace())

	// Within grace: satisfying frames must not count.
	for i := 0; i < 10; i++ {
		clock.advance(40 * time.Millisecond)
		s.Observe(satisfyingFace(s))
	}

	if s.confirmations != 0 {
		t.Errorf("expected no confirmations during grace, got %d", s.confirmations)
	}
	if s.State() != StateInChallenge {
		t.Errorf("expected still InChallenge, got %v", s.State())
	}
}

func TestSession_ConfirmationDebounce(t *testing.T) {
	s, clock := newTestSession(1)
	startSession(s, clock)

	// 4 satisfying frames, then one miss: counter must go back to 0,
	// not decrement, and the challenge must not pass.
	for i := 0; i < 4; i++ {
		clock.advance(50 * time.Millisecond)
		s.Observe(satisfyingFace(s))
	}
	if s.confirmations != 4 {
		t.Fatalf("expected 4 confirmations, got %d", s.confirmations)
	}

	clock.advance(50 * time.Millisecond)
	s.Observe(neutralFace())

	if s.confirmations != 0 {
		t.Errorf("expected counter reset to 0, got %d", s.confirmations)
	}
	if s.index != 0 {
		t.Errorf("challenge must not advance on broken streak, index %d", s.index)
	}
}

func TestSession_PassesOnFifthConsecutiveFrame(t *testing.T) {
	s, clock := newTestSession(1)
	startSession(s, clock)

	for i := 0; i < 4; i++ {
		clock.advance(50 * time.Millisecond)
		s.Observe(satisfyingFace(s))
		if s.index != 0 {
			t.Fatalf("advanced after only %d frames", i+1)
		}
	}

	clock.advance(50 * time.Millisecond)
	s.Observe(satisfyingFace(s))

	if s.index != 1 {
		t.Errorf("expected advancement on 5th satisfying frame, index %d", s.index)
	}
	if s.State() != StateInChallenge {
		t.Errorf("expected second challenge active, got %v", s.State())
	}
	if s.confirmations != 0 {
		t.Errorf("expected counter reset for next challenge, got %d", s.confirmations)
	}
}

func TestSession_ApprovedAfterBothChallenges(t *testing.T) {
	s, clock := newTestSession(3)
	startSession(s, clock)

	for challenge := 0; challenge < 2; challenge++ {
		for i := 0; i < 5; i++ {
			clock.advance(50 * time.Millisecond)
			s.Observe(satisfyingFace(s))
		}
		if challenge == 0 {
			// Second challenge gets its own grace period.
			clock.advance(600 * time.Millisecond)
		}
	}

	if !s.Approved() {
		t.Errorf("expected approval after both challenges, state %v", s.State())
	}
}

func TestSession_TimeoutDiscardsAllProgress(t *testing.T) {
	s, clock := newTestSession(3)
	startSession(s, clock)

	// Pass the first challenge.
	for i := 0; i < 5; i++ {
		clock.advance(50 * time.Millisecond)
		s.Observe(satisfyingFace(s))
	}
	if s.index != 1 {
		t.Fatalf("first challenge should have passed, index %d", s.index)
	}

	// Let the second challenge expire.
	clock.advance(11 * time.Second)
	s.Observe(neutralFace())

	if s.State() != StateAwaitingStart {
		t.Errorf("expected reset to AwaitingStart on timeout, got %v", s.State())
	}
	if len(s.sequence) != 0 {
		t.Error("expected challenge sequence discarded")
	}

	// Next face-present frame samples a fresh pair from scratch.
	s.Observe(neutralFace())
	if s.State() != StateInChallenge || s.index != 0 {
		t.Errorf("expected fresh session, state %v index %d", s.State(), s.index)
	}
}

func TestSession_FaceLossResets(t *testing.T) {
	s, clock := newTestSession(1)
	startSession(s, clock)

	for i := 0; i < 3; i++ {
		clock.advance(50 * time.Millisecond)
		s.Observe(satisfyingFace(s))
	}

	s.Observe(nil)

	if s.State() != StateAwaitingStart {
		t.Errorf("expected reset on face loss, got %v", s.State())
	}
	if s.confirmations != 0 {
		t.Errorf("expected confirmations cleared, got %d", s.confirmations)
	}
}

func TestSession_FaceLossRevokesApproval(t *testing.T) {
	s, clock := newTestSession(3)
	startSession(s, clock)

	for challenge := 0; challenge < 2; challenge++ {
		for i := 0; i < 5; i++ {
			clock.advance(50 * time.Millisecond)
			s.Observe(satisfyingFace(s))
		}
		clock.advance(600 * time.Millisecond)
	}
	if !s.Approved() {
		t.Fatalf("setup failed, state %v", s.State())
	}

	// The very next empty frame forces a return to AwaitingStart.
	s.Observe(nil)

	if s.State() != StateAwaitingStart {
		t.Errorf("expected approval revoked on face loss, got %v", s.State())
	}
}

func TestSession_ApprovedIsTerminal(t *testing.T) {
	s, clock := newTestSession(3)
	startSession(s, clock)

	for challenge := 0; challenge < 2; challenge++ {
		for i := 0; i < 5; i++ {
			clock.advance(50 * time.Millisecond)
			s.Observe(satisfyingFace(s))
		}
		clock.advance(600 * time.Millisecond)
	}
	if !s.Approved() {
		t.Fatalf("setup failed, state %v", s.State())
	}

	// Frames keep coming; state must not move while the face stays.
	for i := 0; i < 20; i++ {
		clock.advance(50 * time.Millisecond)
		s.Observe(neutralFace())
	}

	if !s.Approved() {
		t.Errorf("approval must persist while the face is present, got %v", s.State())
	}
}

func TestSession_Prompt(t *testing.T) {
	s, clock := newTestSession(1)

	if s.Prompt() != "Awaiting Face" {
		t.Errorf("expected 'Awaiting Face' prompt, got %q", s.Prompt())
	}

	startSession(s, clock)

	c, ok := s.Current()
	if !ok {
		t.Fatal("expected an active challenge")
	}
	want := "Challenge: " + c.String()
	if s.Prompt() != want {
		t.Errorf("expected %q, got %q", want, s.Prompt())
	}
}

func TestChallenge_String(t *testing.T) {
	tests := []struct {
		challenge Challenge
		expected  string
	}{
		{TurnLeft, "Turn Head Left"},
		{TurnRight, "Turn Head Right"},
		{Smile, "Smile"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if tt.challenge.String() != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, tt.challenge.String())
			}
		})
	}
}

func TestSession_SmileUsesAbsoluteThreshold(t *testing.T) {
	s, clock := newTestSession(1)

	// Force a known sequence so the predicate under test is Smile.
	s.Observe(neutralFace())
	s.sequence = []Challenge{Smile, TurnLeft}
	s.index = 0
	clock.advance(600 * time.Millisecond)

	// Baseline mouth width is 0.4; a value below the absolute 0.7
	// threshold must not count even though it grew from baseline.
	face := &landmarks.FaceState{RelativeNoseX: 0.1, RelativeMouthWidth: 0.65}
	clock.advance(50 * time.Millisecond)
	s.Observe(face)
	if s.confirmations != 0 {
		t.Errorf("sub-threshold smile must not confirm, got %d", s.confirmations)
	}

	face = &landmarks.FaceState{RelativeNoseX: 0.1, RelativeMouthWidth: 0.75}
	clock.advance(50 * time.Millisecond)
	s.Observe(face)
	if s.confirmations != 1 {
		t.Errorf("above-threshold smile should confirm, got %d", s.confirmations)
	}
}

func TestSession_TurnDirectionSigns(t *testing.T) {
	s, clock := newTestSession(1)
	s.Observe(neutralFace())
	s.sequence = []Challenge{TurnLeft, TurnRight}
	s.index = 0
	clock.advance(600 * time.Millisecond)

	// Moving right must not satisfy TurnLeft.
	face := &landmarks.FaceState{RelativeNoseX: 0.6, RelativeMouthWidth: 0.4}
	clock.advance(50 * time.Millisecond)
	s.Observe(face)
	if s.confirmations != 0 {
		t.Errorf("rightward motion satisfied TurnLeft, confirmations %d", s.confirmations)
	}

	// Moving left past the threshold satisfies it.
	face = &landmarks.FaceState{RelativeNoseX: -0.3, RelativeMouthWidth: 0.4}
	clock.advance(50 * time.Millisecond)
	s.Observe(face)
	if s.confirmations != 1 {
		t.Errorf("leftward motion should satisfy TurnLeft, confirmations %d", s.confirmations)
	}
}
