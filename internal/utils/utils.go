package utils

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"os/exec"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
// The process is killed when ctx is cancelled.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// errOut is where error boxes are printed.
var errOut io.Writer = os.Stderr

// ShowError is the unified error report for facegate commands.
// It prints a formatted error box and dumps worker logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(errOut, "\n---------------------------------------------------------\n")
	fmt.Fprintf(errOut, "🚨 FACEGATE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(errOut, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(errOut, "\nWORKER CRASH LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(errOut, "---------------------------------------------------------\n")
}

// --- 2. Video Engine ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// FFmpegArgs builds the argument list for decoding input into an MJPEG stream on stdout.
// V4L2 devices (/dev/video*) get an explicit input format. A positive fps drops
// frames inside ffmpeg so the pipe only carries what will be processed.
func FFmpegArgs(input string, fps float64) []string {
	// -hide_banner and -loglevel error prevent memory bloat in the stderr buffer
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(input, "/dev/video") {
		args = append(args, "-f", "v4l2")
	}
	args = append(args, "-i", input)
	if fps > 0 {
		args = append(args, "-vf", fmt.Sprintf("fps=%g", fps))
	}
	// Using -vcodec mjpeg ensures we get JPEGs Go can split
	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// NewFFmpegCmd creates a standard decoder pipe
// It configures FFmpeg to output raw MJPEG frames to Stdout for ingestion.
func NewFFmpegCmd(ctx context.Context, input string, fps float64) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", FFmpegArgs(input, fps)...)
}

// --- 3. Image Helpers ---

// DecodeFrame decodes a JPEG or PNG frame.
func DecodeFrame(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, nil
}

// LoadImage reads and decodes an image file.
func LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeFrame(data)
}

// EncodeJPEG serializes img for the worker pipe.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
