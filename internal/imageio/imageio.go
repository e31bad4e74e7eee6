// Package imageio loads page photographs and writes flattened results.
package imageio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"page-dewarp/internal/imgbuf"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"
)

// Source is a decoded input image.
type Source struct {
	Path   string        // Original file path, empty for in-memory input
	Image  *imgbuf.Image // Decoded pixels, EXIF orientation applied
	Format string        // Decoder name: "jpeg", "png", "tiff", ...
	DPI    float64       // Resolution from TIFF metadata, 0 when unknown
}

// Load reads and decodes the image at path.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	src, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	src.Path = path
	return src, nil
}

// Decode decodes an encoded image held in memory. JPEG orientation tags are
// honored so the page is upright before detection.
func Decode(data []byte) (*Source, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	buf := imgbuf.FromImage(img)
	if o, ok := img.(interface{ Opaque() bool }); ok && buf.C == 4 && o.Opaque() {
		buf = dropAlpha(buf)
	}
	src := &Source{Image: buf, Format: format}
	if format == "tiff" {
		if dpi, err := tiffDPI(bytes.NewReader(data)); err == nil {
			src.DPI = dpi
		}
	}
	return src, nil
}

func dropAlpha(m *imgbuf.Image) *imgbuf.Image {
	out := imgbuf.New(m.W, m.H, 3)
	for i, j := 0, 0; i < len(m.Pix); i, j = i+4, j+3 {
		copy(out.Pix[j:j+3], m.Pix[i:i+3])
	}
	return out
}

// Format is an output encoding.
type Format int

const (
	PNG Format = iota
	JPEG
	TIFF
)

func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	case TIFF:
		return "tiff"
	default:
		return "png"
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	return "image/" + f.String()
}

// FormatFromFilename picks the output format from a file extension.
func FormatFromFilename(path string) (Format, error) {
	f, err := imaging.FormatFromFilename(path)
	if err != nil {
		return PNG, fmt.Errorf("unsupported output format %q", filepath.Ext(path))
	}
	switch f {
	case imaging.PNG:
		return PNG, nil
	case imaging.JPEG:
		return JPEG, nil
	case imaging.TIFF:
		return TIFF, nil
	}
	return PNG, fmt.Errorf("unsupported output format %q", filepath.Ext(path))
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img *imgbuf.Image, f Format) error {
	out := img.ToImage()
	switch f {
	case TIFF:
		return tiff.Encode(w, out, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case JPEG:
		return imaging.Encode(w, out, imaging.JPEG, imaging.JPEGQuality(95))
	default:
		return imaging.Encode(w, out, imaging.PNG)
	}
}

// Save writes img to path, choosing the format from the extension.
func Save(path string, img *imgbuf.Image) error {
	f, err := FormatFromFilename(path)
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Encode(file, img, f); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return file.Close()
}

// tiffDPI extracts the horizontal resolution from the first IFD.
func tiffDPI(r io.ReadSeeker) (float64, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, err
	}

	var byteOrder binary.ByteOrder
	if header[0] == 'I' && header[1] == 'I' {
		byteOrder = binary.LittleEndian
	} else if header[0] == 'M' && header[1] == 'M' {
		byteOrder = binary.BigEndian
	} else {
		return 0, fmt.Errorf("not a valid TIFF file")
	}

	ifdOffset := byteOrder.Uint32(header[4:8])
	if _, err := r.Seek(int64(ifdOffset), io.SeekStart); err != nil {
		return 0, err
	}

	var numEntries uint16
	if err := binary.Read(r, byteOrder, &numEntries); err != nil {
		return 0, err
	}

	var xRes, yRes float64
	var resUnit uint16 = 2 // inches
	entry := make([]byte, 12)
	for i := uint16(0); i < numEntries; i++ {
		if _, err := io.ReadFull(r, entry); err != nil {
			return 0, err
		}
		tag := byteOrder.Uint16(entry[0:2])
		fieldType := byteOrder.Uint16(entry[2:4])
		valueOffset := byteOrder.Uint32(entry[8:12])

		switch tag {
		case 282: // XResolution
			if fieldType == 5 {
				xRes = readRational(r, int64(valueOffset), byteOrder)
			}
		case 283: // YResolution
			if fieldType == 5 {
				yRes = readRational(r, int64(valueOffset), byteOrder)
			}
		case 296: // ResolutionUnit
			if fieldType == 3 {
				resUnit = byteOrder.Uint16(entry[8:10])
			}
		}
	}

	dpi := xRes
	if dpi == 0 {
		dpi = yRes
	}
	if dpi == 0 {
		return 0, fmt.Errorf("no resolution tags found")
	}
	if resUnit == 3 {
		dpi *= 2.54
	}
	return dpi, nil
}

// readRational reads a RATIONAL (two uint32s) at offset without moving the
// IFD cursor.
func readRational(r io.ReadSeeker, offset int64, byteOrder binary.ByteOrder) float64 {
	cur, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	defer r.Seek(cur, io.SeekStart)

	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return 0
	}
	var num, denom uint32
	if binary.Read(r, byteOrder, &num) != nil || binary.Read(r, byteOrder, &denom) != nil || denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}

// SupportedFormats returns the accepted input file extensions.
func SupportedFormats() []string {
	return []string{".tiff", ".tif", ".png", ".jpg", ".jpeg"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
