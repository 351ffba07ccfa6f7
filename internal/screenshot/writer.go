// Package screenshot persists alert frames to durable storage.
package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sentinelshield/sentinel/internal/types"
)

// DirWriter saves alert screenshots into a directory, one file per
// accepted alert, named alert_<YYYYMMDD_HHMMSS>.<ext>.
//
// Thread-safe: can be called from multiple goroutines concurrently.
type DirWriter struct {
	dir         string
	format      string
	jpegQuality int
	saved       atomic.Uint64
	failed      atomic.Uint64
}

// NewDirWriter creates a writer for the given directory and format.
//
// The directory is created if absent. When creation fails the writer
// falls back to the current directory rather than failing construction
// (alerts must keep flowing on a misconfigured path).
//
// Format: "jpeg" or "png". JPEGQuality: 1-100 (only used for jpeg).
func NewDirWriter(dir, format string, jpegQuality int) (*DirWriter, error) {
	if format != "jpeg" && format != "png" {
		return nil, fmt.Errorf("unsupported format: %s (must be jpeg or png)", format)
	}
	if jpegQuality < 1 || jpegQuality > 100 {
		return nil, fmt.Errorf("invalid JPEG quality %d (must be 1-100)", jpegQuality)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("failed to create alert folder, falling back to current directory",
			"folder", dir,
			"error", err,
		)
		dir = "."
	}

	return &DirWriter{
		dir:         dir,
		format:      format,
		jpegQuality: jpegQuality,
	}, nil
}

// Save writes the frame to disk and returns the file path.
// Implements alert.ScreenshotWriter.
func (w *DirWriter) Save(frame types.Frame, ts time.Time) (string, error) {
	filename := fmt.Sprintf("alert_%s.%s", ts.Format("20060102_150405"), w.ext())
	return w.save(frame, filename)
}

// SaveManual writes an operator-requested frame capture, named
// manual_save_<YYYYMMDD_HHMMSS>.<ext>.
func (w *DirWriter) SaveManual(frame types.Frame, ts time.Time) (string, error) {
	filename := fmt.Sprintf("manual_save_%s.%s", ts.Format("20060102_150405"), w.ext())
	return w.save(frame, filename)
}

func (w *DirWriter) save(frame types.Frame, filename string) (string, error) {
	img, err := decodeFrame(frame)
	if err != nil {
		w.failed.Add(1)
		return "", fmt.Errorf("frame decode failed: %w", err)
	}

	path := filepath.Join(w.dir, filename)
	file, err := os.Create(path)
	if err != nil {
		w.failed.Add(1)
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	switch w.format {
	case "png":
		if err := png.Encode(file, img); err != nil {
			w.failed.Add(1)
			return "", fmt.Errorf("PNG encode failed: %w", err)
		}
	case "jpeg":
		if err := jpeg.Encode(file, img, &jpeg.Options{Quality: w.jpegQuality}); err != nil {
			w.failed.Add(1)
			return "", fmt.Errorf("JPEG encode failed: %w", err)
		}
	}

	w.saved.Add(1)
	return path, nil
}

func (w *DirWriter) ext() string {
	if w.format == "jpeg" {
		return "jpg"
	}
	return w.format
}

// Stats returns current save statistics.
func (w *DirWriter) Stats() (saved, failed uint64) {
	return w.saved.Load(), w.failed.Load()
}

// decodeFrame interprets frame.Data as raw RGB24 when the size matches
// Width*Height*3 exactly (the stream providers' output), otherwise as an
// encoded image (JPEG or PNG).
func decodeFrame(frame types.Frame) (image.Image, error) {
	if frame.Width > 0 && frame.Height > 0 && len(frame.Data) == frame.Width*frame.Height*3 {
		return rgbToRGBA(frame)
	}

	img, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// rgbToRGBA converts RGB raw bytes (3 bytes/pixel) to image.RGBA.
func rgbToRGBA(frame types.Frame) (*image.RGBA, error) {
	expectedSize := frame.Width * frame.Height * 3
	if len(frame.Data) != expectedSize {
		return nil, fmt.Errorf("invalid RGB data size: got %d, expected %d",
			len(frame.Data), expectedSize)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < frame.Width*frame.Height; i++ {
		img.Pix[i*4+0] = frame.Data[i*3+0] // R
		img.Pix[i*4+1] = frame.Data[i*3+1] // G
		img.Pix[i*4+2] = frame.Data[i*3+2] // B
		img.Pix[i*4+3] = 255               // A (opaque)
	}
	return img, nil
}
