// Package ocr reads text from flattened pages with Tesseract.
package ocr

import (
	"bytes"
	"fmt"
	"strings"

	"page-dewarp/internal/imageio"
	"page-dewarp/internal/imgbuf"
	"page-dewarp/pkg/geometry"

	"github.com/otiai10/gosseract/v2"
)

// Engine provides OCR functionality using Tesseract. An Engine wraps one
// Tesseract handle and must not be used from several goroutines at once.
type Engine struct {
	client *gosseract.Client
}

// NewEngine creates an OCR engine for the given Tesseract language codes,
// "eng" when none are given.
func NewEngine(languages ...string) (*Engine, error) {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}
	return &Engine{client: client}, nil
}

// Close releases OCR resources.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// Result represents a single recognized word.
type Result struct {
	Text       string           `json:"text"`
	Bounds     geometry.RectInt `json:"bounds"`
	Confidence float64          `json:"confidence"`
}

// setPage hands img to Tesseract as PNG.
func (e *Engine) setPage(img *imgbuf.Image, mode gosseract.PageSegMode) error {
	if img == nil || img.Empty() {
		return fmt.Errorf("empty image")
	}
	var buf bytes.Buffer
	if err := imageio.Encode(&buf, img, imageio.PNG); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	if err := e.client.SetPageSegMode(mode); err != nil {
		return fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to set image: %w", err)
	}
	return nil
}

// RecognizePage returns the text of a flattened page, one line per text
// line with runs of spaces collapsed.
func (e *Engine) RecognizePage(img *imgbuf.Image) (string, error) {
	if err := e.setPage(img, gosseract.PSM_AUTO); err != nil {
		return "", err
	}
	text, err := e.client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return CleanText(text), nil
}

// RecognizeWords returns every word with its bounding box in output pixels.
func (e *Engine) RecognizeWords(img *imgbuf.Image) ([]Result, error) {
	if err := e.setPage(img, gosseract.PSM_AUTO); err != nil {
		return nil, err
	}
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("failed to get boxes: %w", err)
	}
	return wordsFromBoxes(boxes), nil
}

// wordsFromBoxes keeps the non-blank words in Tesseract's reading order.
func wordsFromBoxes(boxes []gosseract.BoundingBox) []Result {
	var results []Result
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		results = append(results, Result{
			Text: text,
			Bounds: geometry.RectInt{
				X:      box.Box.Min.X,
				Y:      box.Box.Min.Y,
				Width:  box.Box.Dx(),
				Height: box.Box.Dy(),
			},
			Confidence: box.Confidence,
		})
	}
	return results
}

// CleanText trims every line, collapses inner whitespace and drops blank
// lines.
func CleanText(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if f := strings.Fields(line); len(f) > 0 {
			lines = append(lines, strings.Join(f, " "))
		}
	}
	return strings.Join(lines, "\n")
}
