package ocr

import (
	"strings"
)

// transcribePrompt is the shared prompt used by all LLM providers for reading documents
const transcribePrompt = `You are an OCR engine. Transcribe all text visible in the delivery note image(s) exactly as printed.

Rules:
- Preserve the original line breaks, one printed line per output line
- Keep labels such as "Supplier:", "DN", "Ref", "SKU", "Qty" and their values on the same line
- Copy dates, numbers and codes character for character; do not reformat or correct them
- Do not summarize, translate, or add commentary
- Do not use markdown code blocks
- If the image contains no readable text, return an empty response`

// cleanTranscript strips the wrapping some models add around a transcription
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)

	// Remove markdown code blocks if present
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.Index(text, "\n"); nl >= 0 {
			// drop the language tag, e.g. ```text
			if !strings.ContainsAny(text[:nl], " \t") {
				text = text[nl+1:]
			}
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text)
}
