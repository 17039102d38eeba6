package bookgen

// image_client.go provides a REST API client for Gemini image generation.
// This uses direct HTTP calls instead of the Go SDK because the SDK does not
// support image output for the image-preview models.

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fpang/ai-storybook-studio/internal/assets"
	"github.com/rs/zerolog/log"
)

// geminiBaseURL is the Gemini REST API base URL.
const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ImageClient calls the Gemini image model via REST API for illustration
// and cover generation.
type ImageClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewImageClient creates a new client for Gemini image generation.
func NewImageClient(apiKey string) *ImageClient {
	return &ImageClient{
		apiKey:  apiKey,
		model:   ImageModelName(),
		baseURL: geminiBaseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Image generation can take 10-30s
		},
	}
}

// --- REST API request/response types ---

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *geminiBlobData `json:"inlineData,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiBlobData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// ImageResult holds the result of a Gemini image generation call.
type ImageResult struct {
	// Data is the raw bytes of the generated image (PNG/JPEG).
	Data []byte
	// MIMEType is the MIME type of the output image.
	MIMEType string
	// Text is any text returned alongside the image.
	Text string
}

// GenerateIllustration generates one page illustration. The scene prompt comes
// from the story structure; the character context block is prepended verbatim
// to every call so the child looks the same on every page.
func (c *ImageClient) GenerateIllustration(ctx context.Context, scenePrompt, characterContext string) (*ImageResult, error) {
	prompt := characterContext + "\n\nSCENE:\n" + scenePrompt
	return c.generate(ctx, assets.IllustrationSystemPrompt, prompt)
}

// GenerateCover generates the front cover illustration for a completed story.
func (c *ImageClient) GenerateCover(ctx context.Context, req assets.CoverRequest, characterContext string) (*ImageResult, error) {
	prompt := characterContext + "\n\n" + assets.RenderCoverRequest(req)
	return c.generate(ctx, assets.CoverSystemPrompt, prompt)
}

// generate sends a text prompt to the image model and returns the image bytes.
func (c *ImageClient) generate(ctx context.Context, systemInstruction, prompt string) (*ImageResult, error) {
	startTime := time.Now()
	log.Info().
		Str("model", c.model).
		Int("prompt_length", len(prompt)).
		Msg("Sending prompt to Gemini for image generation")

	req := geminiRequest{
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
	}
	if systemInstruction != "" {
		req.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: systemInstruction}},
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", truncateString(string(respBody), 500)).
			Msg("Gemini image API returned error")
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncateString(string(respBody), 200))
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if geminiResp.Error != nil {
		return nil, fmt.Errorf("API error: %s (code: %d)", geminiResp.Error.Message, geminiResp.Error.Code)
	}

	// Extract image and text from response
	result := &ImageResult{}
	for _, candidate := range geminiResp.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil {
				decoded, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, fmt.Errorf("failed to decode image data: %w", err)
				}
				result.Data = decoded
				result.MIMEType = part.InlineData.MIMEType
			}
			if part.Text != "" {
				result.Text += part.Text
			}
		}
	}

	if result.Data == nil {
		return nil, fmt.Errorf("no image returned in response (text: %s)", truncateString(result.Text, 200))
	}

	log.Info().
		Int("output_bytes", len(result.Data)).
		Str("output_mime", result.MIMEType).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini image generation complete")

	return result, nil
}

// truncateString truncates a string to maxLen, appending "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
