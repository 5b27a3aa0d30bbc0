package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/facegate/internal/embedding"
	"github.com/andresmejia3/facegate/internal/pipeline"
	"github.com/andresmejia3/facegate/internal/utils" // Using the SafeCommand wrapper

	log "github.com/sirupsen/logrus"
)

// Request opcodes, first byte of every request body.
const (
	OpDetect byte = 'D'
	OpEmbed  byte = 'E'
)

// Response status, first byte of every response body.
const (
	statusOK    byte = 0
	statusError byte = 1
)

// Limits that guard against reading a garbage length off a corrupted pipe.
const (
	maxDim   = 4096
	maxFaces = 1024
)

var ErrWorkerClosed = errors.New("python worker is closed")

// Config controls how the Python model worker is launched.
type Config struct {
	Python             string
	Script             string
	Model              string
	DetectionThreshold float64
	JPEGQuality        int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Python:             "python3",
		Script:             "python/worker.py",
		Model:              "buffalo_l",
		DetectionThreshold: 0.5,
		JPEGQuality:        90,
	}
}

// PythonWorker runs the face detector and embedding extractor in a Python
// subprocess. Requests go over stdin, responses come back on FD 3 so that
// library chatter on stdout never corrupts the stream. Calls are serialized.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu        sync.Mutex
	quality   int
	closed    atomic.Bool
	closeOnce sync.Once
}

// New starts a worker process. Cancelling ctx kills it.
func New(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand we built
	py := utils.NewSafeCommand(ctx, cfg.Python, "-u", cfg.Script,
		"--model", cfg.Model,
		"--detection-threshold", strconv.FormatFloat(cfg.DetectionThreshold, 'f', -1, 64),
	)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	log.WithFields(log.Fields{"worker": id, "script": cfg.Script, "model": cfg.Model}).Debug("python worker started")

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		quality:  cfg.JPEGQuality,
	}, nil
}

// Communicate sends one framed request and reads one framed response.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// call encodes img, sends it under op and returns the response body past the status byte.
func (w *PythonWorker) call(ctx context.Context, op byte, img image.Image) (*bytes.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := utils.EncodeJPEG(img, w.quality)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Load() {
		return nil, ErrWorkerClosed
	}

	resp, err := w.Communicate(append([]byte{op}, frame...))
	if err != nil {
		return nil, fmt.Errorf("worker %d pipe failure: %w", w.ID, err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("worker %d sent an empty response", w.ID)
	}

	body := bytes.NewReader(resp[1:])
	switch resp[0] {
	case statusOK:
		return body, nil
	case statusError:
		var msgLen uint32
		if err := binary.Read(body, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(body, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	default:
		return nil, fmt.Errorf("unknown response status %d", resp[0])
	}
}

// Detect implements pipeline.Detector.
// Response: [NumFaces uint32] then per face [Box [4]int32 x0,y0,x1,y1] [Confidence float32].
func (w *PythonWorker) Detect(ctx context.Context, frame image.Image) ([]pipeline.Region, error) {
	body, err := w.call(ctx, OpDetect, frame)
	if err != nil {
		return nil, err
	}

	var n uint32
	if err := binary.Read(body, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read face count: %w", err)
	}
	if n > maxFaces {
		return nil, fmt.Errorf("face count %d exceeds limit %d", n, maxFaces)
	}

	regions := make([]pipeline.Region, 0, n)
	for i := uint32(0); i < n; i++ {
		var box [4]int32
		var conf float32
		if err := binary.Read(body, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("failed to read box %d: %w", i, err)
		}
		if err := binary.Read(body, binary.BigEndian, &conf); err != nil {
			return nil, fmt.Errorf("failed to read confidence %d: %w", i, err)
		}
		regions = append(regions, pipeline.Region{
			Box:        image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3])),
			Confidence: float64(conf),
		})
	}
	return regions, nil
}

// Embed implements pipeline.Extractor.
// Response: [Dim uint32] [Vec [Dim]float32]. Dim 0 means the model found no usable face.
func (w *PythonWorker) Embed(ctx context.Context, crop image.Image) (embedding.Vector, error) {
	body, err := w.call(ctx, OpEmbed, crop)
	if err != nil {
		return nil, err
	}

	var dim uint32
	if err := binary.Read(body, binary.BigEndian, &dim); err != nil {
		return nil, fmt.Errorf("failed to read embedding size: %w", err)
	}
	if dim == 0 {
		return nil, pipeline.ErrNoUsableFace
	}
	if dim > maxDim {
		return nil, fmt.Errorf("embedding size %d exceeds limit %d", dim, maxDim)
	}

	vec := make(embedding.Vector, dim)
	if err := binary.Read(body, binary.BigEndian, []float32(vec)); err != nil {
		return nil, fmt.Errorf("failed to read embedding: %w", err)
	}
	return vec, nil
}

// Close shuts the pipes and waits for the process to exit. Closing the pipes
// unblocks a call stuck on a hung model.
func (w *PythonWorker) Close() {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.Stdin.Close()
		w.DataPipe.Close()
		if w.Cmd != nil {
			if err := w.Cmd.Wait(); err != nil {
				log.WithFields(log.Fields{"worker": w.ID, "error": err}).Debug("python worker exited")
			}
		}
	})
}
