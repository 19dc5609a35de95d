// Package camera provides frame acquisition for the attendance
// pipeline. The pipeline only needs a stream of encoded frames; the
// Source interface keeps it independent of where they come from.
package camera

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Frame represents a single camera frame.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// DeviceInfo contains information about a camera device.
type DeviceInfo struct {
	Path   string
	Name   string
	Driver string
}

// Source is a stream of frames. Implementations are a live camera
// device or a directory replay for development and tests.
type Source interface {
	Open() error
	ReadFrame() (*Frame, error)
	Close() error
}

// ErrCameraNotFound is returned when the camera device is not found.
var ErrCameraNotFound = errors.New("camera device not found")

// ErrSourceNotOpen is returned when reading from a closed source.
var ErrSourceNotOpen = errors.New("frame source not open")

// ErrNoFrame is returned when the source is exhausted.
var ErrNoFrame = errors.New("no frame available")

// frameExtensions are the encodings the replay source accepts; they
// match what the recognizer can decode.
var frameExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// FileSource replays image files from a directory in name order, one
// per ReadFrame call. Used for development without a camera and for
// exercising the pipeline against recorded sessions.
type FileSource struct {
	dir   string
	files []string
	next  int
	open  bool
}

// NewFileSource creates a replay source over a directory of images.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Open scans the directory and fixes the replay order.
func (s *FileSource) Open() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read frame directory: %w", err)
	}

	s.files = s.files[:0]
	for _, entry := range entries {
		if entry.IsDir() || !frameExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		s.files = append(s.files, filepath.Join(s.dir, entry.Name()))
	}
	sort.Strings(s.files)

	s.next = 0
	s.open = true
	return nil
}

// ReadFrame returns the next frame, or ErrNoFrame when the directory
// is exhausted.
func (s *FileSource) ReadFrame() (*Frame, error) {
	if !s.open {
		return nil, ErrSourceNotOpen
	}
	if s.next >= len(s.files) {
		return nil, ErrNoFrame
	}

	data, err := os.ReadFile(s.files[s.next])
	if err != nil {
		return nil, fmt.Errorf("failed to read frame file: %w", err)
	}
	s.next++

	return &Frame{Data: data, Timestamp: time.Now()}, nil
}

// Close stops the replay.
func (s *FileSource) Close() error {
	s.open = false
	return nil
}
