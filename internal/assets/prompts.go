// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at
// compile time, so prompt wording can be revised without touching Go code.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

// --- Static prompts (no dynamic data) ---

// StoryStructureSystemPrompt instructs the model to produce a complete
// page-by-page story as strict JSON.
//
//go:embed prompts/story-structure-system.txt
var StoryStructureSystemPrompt string

// IllustrationSystemPrompt sets the coloring-book line-art style rules for
// every interior page illustration.
//
//go:embed prompts/illustration-system.txt
var IllustrationSystemPrompt string

// CoverSystemPrompt sets the style rules for the front cover illustration.
//
//go:embed prompts/cover-system.txt
var CoverSystemPrompt string

// --- Dynamic prompt templates ---

//go:embed prompts/story-request.txt
var storyRequestTemplate string

//go:embed prompts/cover-request.txt
var coverRequestTemplate string

// Pre-parsed templates. template.Must panics on malformed templates, catching
// errors at program startup rather than at call time.
var (
	storyRequestTmpl = template.Must(template.New("story").Parse(storyRequestTemplate))
	coverRequestTmpl = template.Must(template.New("cover").Parse(coverRequestTemplate))
)

// StoryRequest holds the data injected into the story request template.
type StoryRequest struct {
	Category      string
	ChildName     string
	ChildAge      int
	ChildGender   string
	Prompt        string
	PageCount     int
	Location      string
	Participants  string
	MilestoneType string
	Mood          string
}

// CoverRequest holds the data injected into the cover request template.
type CoverRequest struct {
	Category             string
	Title                string
	ChildName            string
	CharacterDescription string
}

// RenderStoryRequest renders the user prompt for story structure generation.
func RenderStoryRequest(data StoryRequest) string {
	var buf bytes.Buffer
	_ = storyRequestTmpl.Execute(&buf, data)
	return buf.String()
}

// RenderCoverRequest renders the user prompt for cover generation.
func RenderCoverRequest(data CoverRequest) string {
	var buf bytes.Buffer
	_ = coverRequestTmpl.Execute(&buf, data)
	return buf.String()
}
