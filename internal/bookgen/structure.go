package bookgen

// structure.go implements story structure generation.
//
// The full story is generated in a single Gemini call that returns a strict
// JSON document with a title and one entry per page. Each page carries the
// narration text and an image prompt describing the scene; the character's
// appearance is injected separately during illustration so the model cannot
// drift between pages.

import (
	"context"
	"fmt"
	"time"

	"github.com/fpang/ai-storybook-studio/internal/assets"
	"github.com/fpang/ai-storybook-studio/internal/jsonutil"
	"github.com/fpang/ai-storybook-studio/internal/story"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Structure is the parsed story structure returned by the model.
type Structure struct {
	Title string      `json:"title"`
	Pages []pageEntry `json:"pages"`
}

type pageEntry struct {
	Text        string `json:"text"`
	ImagePrompt string `json:"imagePrompt"`
}

// StructureGenerator generates story structures via the Gemini SDK.
type StructureGenerator struct {
	client *genai.Client
}

// NewStructureGenerator wraps a Gemini client for story structure generation.
func NewStructureGenerator(client *genai.Client) *StructureGenerator {
	return &StructureGenerator{client: client}
}

// GenerateStructure produces the title and pages for the given input.
// The returned pages have text and image prompts but no images yet.
func (g *StructureGenerator) GenerateStructure(ctx context.Context, in story.UserInput) (string, []story.Page, error) {
	prompt := assets.RenderStoryRequest(assets.StoryRequest{
		Category:      string(in.Category),
		ChildName:     in.ChildName,
		ChildAge:      in.ChildAge,
		ChildGender:   in.ChildGender,
		Prompt:        in.Prompt,
		PageCount:     in.PageCount,
		Location:      in.Location,
		Participants:  in.Participants,
		MilestoneType: in.MilestoneType,
		Mood:          in.Mood,
	})

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.StoryStructureSystemPrompt}},
		},
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}

	modelName := TextModelName()
	callStart := time.Now()
	log.Debug().
		Str("model", modelName).
		Str("child", in.ChildName).
		Int("page_count", in.PageCount).
		Msg("Starting Gemini API call for story structure")

	resp, err := g.client.Models.GenerateContent(ctx, modelName, contents, config)
	duration := time.Since(callStart)
	if err != nil {
		log.Error().Err(err).Dur("duration", duration).Msg("Failed to generate story structure")
		return "", nil, fmt.Errorf("failed to generate content: %w", err)
	}
	if resp == nil {
		return "", nil, fmt.Errorf("received empty response from Gemini API")
	}

	responseText := resp.Text()
	log.Debug().
		Int("response_length", len(responseText)).
		Dur("duration", duration).
		Msg("Gemini API response received for story structure")

	structure, err := parseStructureResponse(responseText, in.PageCount)
	if err != nil {
		return "", nil, err
	}

	pages := make([]story.Page, len(structure.Pages))
	for i, p := range structure.Pages {
		pages[i] = story.Page{Text: p.Text, ImagePrompt: p.ImagePrompt}
	}

	log.Info().
		Str("title", structure.Title).
		Int("pages", len(pages)).
		Dur("duration", duration).
		Msg("Story structure generation complete")

	return structure.Title, pages, nil
}

// parseStructureResponse extracts and validates the JSON story structure.
func parseStructureResponse(response string, wantPages int) (*Structure, error) {
	structure, err := jsonutil.Parse[Structure](response)
	if err != nil {
		log.Error().Err(err).Msg("Failed to parse story structure response")
		return nil, fmt.Errorf("story structure response: %w", err)
	}
	if structure.Title == "" {
		return nil, fmt.Errorf("empty title in story structure response")
	}
	if len(structure.Pages) == 0 {
		return nil, fmt.Errorf("no pages in story structure response")
	}
	if len(structure.Pages) != wantPages {
		return nil, fmt.Errorf("story structure has %d pages, want %d", len(structure.Pages), wantPages)
	}
	for i, p := range structure.Pages {
		if p.Text == "" {
			return nil, fmt.Errorf("page %d has empty text", i+1)
		}
		if p.ImagePrompt == "" {
			return nil, fmt.Errorf("page %d has empty image prompt", i+1)
		}
	}
	return &structure, nil
}
