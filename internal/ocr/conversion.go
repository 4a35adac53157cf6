package ocr

import (
	"bytes"
	"fmt"
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// page is a single image ready to be sent to an OCR engine
type page struct {
	data     []byte
	mimeType string
}

// format returns the short image format, e.g. "png"
func (p page) format() string {
	return strings.TrimPrefix(p.mimeType, "image/")
}

// normalizeMimeType lowercases the content type, drops parameters and sniffs empty values
func normalizeMimeType(data []byte, contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
		if i := strings.Index(mimeType, ";"); i >= 0 {
			mimeType = mimeType[:i]
		}
	}
	if mimeType == "image/jpg" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

// pdfToImages renders up to maxPages pages of a PDF as PNG images.
// maxPages <= 0 renders every page.
func pdfToImages(pdfData []byte, maxPages int) ([]page, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	if maxPages > 0 && n > maxPages {
		n = maxPages
	}

	pages := make([]page, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding PNG: %w", err)
		}
		pages = append(pages, page{data: buf.Bytes(), mimeType: "image/png"})
	}
	return pages, nil
}

// heicToPNG decodes a HEIC/HEIF image (common on iPhones) and re-encodes it as PNG
func heicToPNG(imageData []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files typically start with specific magic bytes
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}

	// ftyp box at offset 4 with a HEIC-related brand
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}

	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// passThrough lists image formats the engines read directly
var passThrough = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// prepareDocument turns an uploaded document into one or more page images
func prepareDocument(data []byte, contentType string, maxPages int) ([]page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	mimeType := normalizeMimeType(data, contentType)

	switch {
	case mimeType == "application/pdf":
		pages, err := pdfToImages(data, maxPages)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return pages, nil
	case isHEICMimeType(mimeType) || isHEICFormat(data):
		pngData, err := heicToPNG(data)
		if err != nil {
			return nil, fmt.Errorf("converting image to PNG: %w", err)
		}
		return []page{{data: pngData, mimeType: "image/png"}}, nil
	case passThrough[mimeType]:
		return []page{{data: data, mimeType: mimeType}}, nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: PNG, JPEG, WebP, GIF, HEIC, HEIF, PDF)", ErrUnsupportedFormat, mimeType)
	}
}
