// Package bookgen generates personalized children's storybooks with Gemini:
// story structure as JSON via the genai SDK, and line-art illustrations via
// the Gemini image REST API.
package bookgen

import "os"

// Gemini Model IDs
//
// | Model Name                  | API Model ID                | Use Case                      |
// |-----------------------------|---------------------------  |-------------------------------|
// | Gemini 3.1 Pro (Preview)    | gemini-3.1-pro-preview      | Best for complex reasoning    |
// | Gemini 3 Flash (Preview)    | gemini-3-flash-preview      | Best for speed + intelligence |
// | Gemini 2.5 Flash            | gemini-2.5-flash            | Stable, balanced performance  |
// | Gemini 3 Pro Image          | gemini-3-pro-image-preview  | Advanced image generation     |
const (
	// ModelGemini31ProPreview is best for complex reasoning (1M context).
	ModelGemini31ProPreview = "gemini-3.1-pro-preview"

	// ModelGemini3FlashPreview is best for speed + intelligence.
	ModelGemini3FlashPreview = "gemini-3-flash-preview"

	// ModelGemini25Flash is stable, balanced performance.
	ModelGemini25Flash = "gemini-2.5-flash"

	// ModelGemini3ProImage is for image generation.
	ModelGemini3ProImage = "gemini-3-pro-image-preview"
)

// DefaultTextModel is the default model for story structure generation.
// Can be overridden via the GEMINI_MODEL environment variable.
const DefaultTextModel = ModelGemini3FlashPreview

// DefaultImageModel is the default model for illustration and cover generation.
// Can be overridden via the GEMINI_IMAGE_MODEL environment variable.
const DefaultImageModel = ModelGemini3ProImage

// TextModelName returns the Gemini model for story structure, resolved from:
// 1. GEMINI_MODEL environment variable (if set)
// 2. Default: gemini-3-flash-preview
func TextModelName() string {
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultTextModel
}

// ImageModelName returns the Gemini model for illustrations, resolved from:
// 1. GEMINI_IMAGE_MODEL environment variable (if set)
// 2. Default: gemini-3-pro-image-preview
func ImageModelName() string {
	if env := os.Getenv("GEMINI_IMAGE_MODEL"); env != "" {
		return env
	}
	return DefaultImageModel
}
