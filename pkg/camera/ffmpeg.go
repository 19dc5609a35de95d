package camera

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/MrCodeEU/facemark/pkg/logging"
)

// execCommand is swapped out in tests.
var execCommand = exec.Command

// jpegStart and jpegEnd are the SOI/EOI markers framing each image in
// an MJPEG stream.
var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// FFmpegSource streams MJPEG frames from a V4L2 device through an
// ffmpeg child process. Spawning ffmpeg avoids cgo bindings to V4L2
// and works with any device ffmpeg supports.
type FFmpegSource struct {
	device string
	width  int
	height int
	fps    int

	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	open   bool
}

// NewFFmpegSource creates a live camera source for a device path like
// /dev/video0.
func NewFFmpegSource(device string, width, height, fps int) *FFmpegSource {
	return &FFmpegSource{
		device: device,
		width:  width,
		height: height,
		fps:    fps,
	}
}

// Open starts the ffmpeg process and begins streaming.
func (s *FFmpegSource) Open() error {
	if s.open {
		return nil
	}

	args := []string{
		"-f", "v4l2",
		"-framerate", strconv.Itoa(s.fps),
		"-video_size", fmt.Sprintf("%dx%d", s.width, s.height),
		"-i", s.device,
		"-f", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	}

	cmd := execCommand("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.reader = bufio.NewReaderSize(stdout, 1<<20)
	s.open = true

	logging.Infof("Camera stream started on %s (%dx%d @ %d fps)", s.device, s.width, s.height, s.fps)
	return nil
}

// ReadFrame blocks until the next complete JPEG arrives on the stream.
func (s *FFmpegSource) ReadFrame() (*Frame, error) {
	if !s.open {
		return nil, ErrSourceNotOpen
	}

	data, err := s.nextJPEG()
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrNoFrame
		}
		return nil, fmt.Errorf("failed to read camera frame: %w", err)
	}

	return &Frame{
		Data:      data,
		Width:     s.width,
		Height:    s.height,
		Timestamp: time.Now(),
	}, nil
}

// nextJPEG scans the byte stream for the next SOI..EOI span. Garbage
// between frames is discarded.
func (s *FFmpegSource) nextJPEG() ([]byte, error) {
	// Seek the start marker.
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != jpegStart[0] {
			continue
		}
		next, err := s.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == jpegStart[1] {
			break
		}
		// Not a frame start, keep scanning from the second byte.
		if err := s.reader.UnreadByte(); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	buf.Write(jpegStart)

	// Collect until the end marker.
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if b == jpegEnd[1] && buf.Len() >= 4 {
			tail := buf.Bytes()
			if tail[buf.Len()-2] == jpegEnd[0] {
				return buf.Bytes(), nil
			}
		}
	}
}

// Close stops ffmpeg and releases the stream.
func (s *FFmpegSource) Close() error {
	if !s.open {
		return nil
	}
	s.open = false

	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	return nil
}
