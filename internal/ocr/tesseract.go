package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// TesseractConfig configures the local tesseract engine
type TesseractConfig struct {
	Binary      string // binary name or absolute path; if empty -> "tesseract"
	Lang        string // default "eng"
	TessdataDir string
	PSM         int // page segmentation mode; 0 keeps the engine default
	MaxPages    int // PDF pages to recognize; 0 = no limit
}

// Tesseract implements the Recognizer interface using the tesseract CLI.
// Images are streamed over stdin so no temporary files are written.
type Tesseract struct {
	cfg    TesseractConfig
	runner Runner
	logger *slog.Logger
}

// NewTesseract creates a new Tesseract Recognizer instance
func NewTesseract(cfg TesseractConfig, logger *slog.Logger) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	return NewTesseractWithRunner(cfg, execRunner{logger: logger}, logger)
}

// NewTesseractWithRunner creates a Tesseract with a custom command runner for testing
func NewTesseractWithRunner(cfg TesseractConfig, runner Runner, logger *slog.Logger) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	return &Tesseract{cfg: cfg, runner: runner, logger: logger}
}

// args builds the command line: tesseract stdin stdout -l <lang> [--psm N] [--tessdata-dir D]
func (t *Tesseract) args() []string {
	args := []string{"stdin", "stdout", "-l", t.cfg.Lang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	return args
}

// Recognize renders the document and runs tesseract on every page.
// Progress advances after preparation and after each page.
func (t *Tesseract) Recognize(ctx context.Context, data []byte, contentType string, progress ProgressFunc) (string, error) {
	report(progress, 0)

	pages, err := prepareDocument(data, contentType, t.cfg.MaxPages)
	if err != nil {
		return "", err
	}
	// preparation is a small share of the work
	const prepShare = 0.05
	report(progress, prepShare)

	texts := make([]string, 0, len(pages))
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		out, errb, err := t.runner.Run(ctx, bytes.NewReader(p.data), t.cfg.Binary, t.args()...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("tesseract page %d: %w: %s", i+1, err, strings.TrimSpace(truncate(string(errb), 512)))
		}
		texts = append(texts, strings.TrimRight(string(out), "\f\n "))

		if i+1 < len(pages) {
			report(progress, prepShare+(1-prepShare)*float64(i+1)/float64(len(pages)))
		}
	}
	report(progress, 1)

	t.logger.Debug("tesseract recognized document", "pages", len(pages), "bytes", len(data))
	return strings.Join(texts, "\n"), nil
}

// Close is a no-op; every call spawns its own process
func (t *Tesseract) Close() error {
	return nil
}
