package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Recognizer interface using Google Gemini
type Gemini struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	maxPages int
	logger   *slog.Logger
}

// NewGemini creates a new Gemini Recognizer instance
func NewGemini(ctx context.Context, apiKey string, modelName string, maxPages int, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	if maxPages <= 0 {
		maxPages = 1 // most delivery notes are single page
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client:   client,
		model:    model,
		maxPages: maxPages,
		logger:   logger,
	}, nil
}

// Recognize transcribes the document text with a single multimodal request.
// The API gives no incremental progress, so only milestones are reported.
func (g *Gemini) Recognize(ctx context.Context, data []byte, contentType string, progress ProgressFunc) (string, error) {
	report(progress, 0)

	pages, err := prepareDocument(data, contentType, g.maxPages)
	if err != nil {
		return "", err
	}
	report(progress, 0.1)

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	parts := make([]genai.Part, 0, len(pages)+1)
	for _, p := range pages {
		parts = append(parts, genai.ImageData(p.format(), p.data))
	}
	parts = append(parts, genai.Text(transcribePrompt))

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	report(progress, 1)

	g.logger.Debug("gemini recognized document", "pages", len(pages), "chars", responseText.Len())
	return cleanTranscript(responseText.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
