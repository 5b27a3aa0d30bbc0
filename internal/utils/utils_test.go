package utils

import (
	"bufio"
	"bytes"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	// Use bufio.Scanner with our custom Split function
	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	// Verify the extracted token is exactly the JPEG
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJpeg_BackToBackFrames(t *testing.T) {
	first := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	second := []byte{0xFF, 0xD8, 0xBB, 0xCC, 0xFF, 0xD9}

	scanner := bufio.NewScanner(bytes.NewReader(append(append([]byte{}, first...), second...)))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte{}, scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("unexpected scanner error: %v", err)
	}
	if len(got) != 2 || !bytes.Equal(got[0], first) || !bytes.Equal(got[1], second) {
		t.Errorf("Expected both frames in order, got %X", got)
	}
}

func TestFFmpegArgs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		fps   float64
		want  string
	}{
		{"file", "clip.mp4", 0, "-hide_banner -loglevel error -i clip.mp4 -f image2pipe -vcodec mjpeg -"},
		{"file with fps", "clip.mp4", 2.5, "-hide_banner -loglevel error -i clip.mp4 -vf fps=2.5 -f image2pipe -vcodec mjpeg -"},
		{"webcam", "/dev/video0", 0, "-hide_banner -loglevel error -f v4l2 -i /dev/video0 -f image2pipe -vcodec mjpeg -"},
		{"stream", "rtsp://cam/1", 5, "-hide_banner -loglevel error -i rtsp://cam/1 -vf fps=5 -f image2pipe -vcodec mjpeg -"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.Join(FFmpegArgs(tt.input, tt.fps), " "); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestShowError(t *testing.T) {
	var buf bytes.Buffer
	errOut = &buf
	t.Cleanup(func() { errOut = os.Stderr })

	s := &SafeCommand{Stderr: bytes.NewBufferString("ModuleNotFoundError: insightface")}
	ShowError("Failed to start AI worker", errors.New("exit status 1"), s)

	out := buf.String()
	for _, want := range []string{"Failed to start AI worker", "exit status 1", "ModuleNotFoundError: insightface"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected error box to contain %q, got:\n%s", want, out)
		}
	}
}

func TestLoadImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for x := 0; x < 32; x++ {
		src.Set(x, x%24, color.RGBA{R: 200, A: 255})
	}

	data, err := EncodeJPEG(src, 90)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, JpegSOI) {
		t.Errorf("Expected JPEG SOI marker, got %X", data[:2])
	}

	path := filepath.Join(t.TempDir(), "face.jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	img, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 24 {
		t.Errorf("Expected 32x24 image, got %v", img.Bounds())
	}
}

func TestDecodeFrame_Garbage(t *testing.T) {
	if _, err := DecodeFrame([]byte("not an image")); err == nil {
		t.Error("Expected decode error for garbage input")
	}
}
