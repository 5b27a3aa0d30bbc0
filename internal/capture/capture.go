// Package capture reads frames from a camera, file or network stream through ffmpeg.
package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/utils"

	log "github.com/sirupsen/logrus"
)

const megabyte = 1024 * 1024

// ReadFrames splits an MJPEG stream and sends every nth frame to out.
// It returns the number of frames read, stopping at EOF or when ctx is done.
func ReadFrames(ctx context.Context, r io.Reader, nth int, out chan<- types.FrameTask) (int, error) {
	if nth < 1 {
		return 0, fmt.Errorf("invalid nth-frame interval: must be >= 1, got %d", nth)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	total := 0
	for scanner.Scan() {
		total++
		if total%nth != 0 {
			continue
		}

		// The scanner reuses its buffer, so the frame must be copied before handing it off.
		data := make([]byte, len(scanner.Bytes()))
		copy(data, scanner.Bytes())

		select {
		case out <- types.FrameTask{Index: total, Data: data, CapturedAt: time.Now()}:
		case <-ctx.Done():
			return total, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("frame scanner failed: %w", err)
	}
	return total, nil
}

// Stream is a running ffmpeg decoder.
type Stream struct {
	Cmd    *utils.SafeCommand
	stdout io.ReadCloser
	input  string
}

// Start launches ffmpeg on input. A positive fps resamples the stream.
func Start(ctx context.Context, input string, fps float64) (*Stream, error) {
	ffmpeg := utils.NewFFmpegCmd(ctx, input, fps)

	stdout, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := ffmpeg.Start(); err != nil {
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	log.WithFields(log.Fields{"input": input, "fps": fps}).Debug("ffmpeg started")
	return &Stream{Cmd: ffmpeg, stdout: stdout, input: input}, nil
}

// Run forwards every nth frame to out until the stream ends or ctx is done,
// then reaps ffmpeg. out is not closed.
func (s *Stream) Run(ctx context.Context, nth int, out chan<- types.FrameTask) (int, error) {
	total, readErr := ReadFrames(ctx, s.stdout, nth, out)
	// Ensure pipe is closed to prevent leaks/zombies
	s.stdout.Close()

	waitErr := s.Cmd.Wait()
	if readErr != nil {
		return total, readErr
	}
	if ctx.Err() != nil {
		// ffmpeg was killed by the cancelled context.
		return total, ctx.Err()
	}
	if waitErr != nil {
		return total, fmt.Errorf("ffmpeg execution failed on %s: %w", s.input, waitErr)
	}
	return total, nil
}
