package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Ollama implements the Recognizer interface using Ollama
type Ollama struct {
	baseURL  string
	model    string
	maxPages int
	client   *http.Client
	logger   *slog.Logger
}

// NewOllama creates a new Ollama Recognizer instance
// Vision models with decent OCR (in order of recommendation):
//   - qwen2.5vl (strong document OCR)
//   - llava:1.6 (general purpose vision model)
//   - minicpm-v
//
// Note: PDFs are rendered to images before they are sent
func NewOllama(baseURL string, modelName string, maxPages int, logger *slog.Logger) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "qwen2.5vl"
	}
	if maxPages <= 0 {
		maxPages = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Ollama{
		baseURL:  strings.TrimRight(baseURL, "/"),
		model:    modelName,
		maxPages: maxPages,
		client: &http.Client{
			Timeout: 120 * time.Second, // vision models can be slow
		},
		logger: logger,
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Recognize transcribes the document text through the chat endpoint
func (o *Ollama) Recognize(ctx context.Context, data []byte, contentType string, progress ProgressFunc) (string, error) {
	report(progress, 0)

	pages, err := prepareDocument(data, contentType, o.maxPages)
	if err != nil {
		return "", err
	}
	report(progress, 0.1)

	images := make([]string, 0, len(pages))
	for _, p := range pages {
		images = append(images, base64.StdEncoding.EncodeToString(p.data))
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading printed business documents. You transcribe text exactly as it appears.",
			},
			{
				Role:    "user",
				Content: transcribePrompt,
				Images:  images,
			},
		},
		Options: map[string]any{"temperature": 0},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	report(progress, 1)

	o.logger.Debug("ollama recognized document", "model", o.model, "pages", len(pages), "chars", len(chatResp.Message.Content))
	return cleanTranscript(chatResp.Message.Content), nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
