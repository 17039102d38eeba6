package bookgen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestImageClient(serverURL string) *ImageClient {
	return &ImageClient{
		apiKey:     "test-key",
		model:      "test-model",
		baseURL:    serverURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func imageResponse(data []byte, mimeType string) string {
	resp := geminiResponse{
		Candidates: []geminiCandidate{{
			Content: geminiContent{
				Parts: []geminiPart{{
					InlineData: &geminiBlobData{
						MIMEType: mimeType,
						Data:     base64.StdEncoding.EncodeToString(data),
					},
				}},
			},
		}},
	}
	body, _ := json.Marshal(resp)
	return string(body)
}

func TestGenerateIllustration(t *testing.T) {
	want := []byte("fake-png-bytes")
	var gotReq geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "test-model:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Error("missing api key query parameter")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(imageResponse(want, "image/png")))
	}))
	defer server.Close()

	c := newTestImageClient(server.URL)
	result, err := c.GenerateIllustration(context.Background(), "A boy on the moon", "MAIN CHARACTER REFERENCE:\n- Name: Leo")
	if err != nil {
		t.Fatalf("GenerateIllustration: %v", err)
	}
	if string(result.Data) != string(want) {
		t.Errorf("Data = %q, want %q", result.Data, want)
	}
	if result.MIMEType != "image/png" {
		t.Errorf("MIMEType = %q", result.MIMEType)
	}

	if gotReq.SystemInstruction == nil {
		t.Fatal("request missing system instruction")
	}
	if len(gotReq.Contents) != 1 || len(gotReq.Contents[0].Parts) != 1 {
		t.Fatalf("unexpected request contents: %+v", gotReq.Contents)
	}
	prompt := gotReq.Contents[0].Parts[0].Text
	if !strings.Contains(prompt, "MAIN CHARACTER REFERENCE") || !strings.Contains(prompt, "A boy on the moon") {
		t.Errorf("prompt missing character context or scene:\n%s", prompt)
	}
	mods := gotReq.GenerationConfig.ResponseModalities
	if len(mods) != 2 || mods[0] != "TEXT" || mods[1] != "IMAGE" {
		t.Errorf("ResponseModalities = %v", mods)
	}
}

func TestGenerateIllustrationAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"code": 429, "message": "rate limited"}}`))
	}))
	defer server.Close()

	c := newTestImageClient(server.URL)
	_, err := c.GenerateIllustration(context.Background(), "scene", "context")
	if err == nil {
		t.Fatal("expected error on 429")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should mention status code: %v", err)
	}
}

func TestGenerateIllustrationNoImageInResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Parts: []geminiPart{{Text: "I cannot draw that."}}},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := newTestImageClient(server.URL)
	_, err := c.GenerateIllustration(context.Background(), "scene", "context")
	if err == nil {
		t.Fatal("expected error when no image returned")
	}
	if !strings.Contains(err.Error(), "no image returned") {
		t.Errorf("unexpected error: %v", err)
	}
}
