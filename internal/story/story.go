// Package story defines the domain model for personalized children's
// storybooks: the validated user input that seeds a generation run, the
// per-page output, and the assembled Story aggregate.
package story

import (
	"fmt"
	"time"
)

// Category is the story category chosen on the input form.
type Category string

// Supported story categories.
const (
	CategoryDream       Category = "DREAM"
	CategoryAdventure   Category = "ADVENTURE"
	CategoryMilestone   Category = "MILESTONE"
	CategoryMemory      Category = "MEMORY"
	CategoryImagination Category = "IMAGINATION"
)

// Categories lists all valid categories in form display order.
var Categories = []Category{
	CategoryDream,
	CategoryAdventure,
	CategoryMilestone,
	CategoryMemory,
	CategoryImagination,
}

// Valid reports whether c is one of the supported categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Page counts offered by the product: a short free sample and a full book.
const (
	SamplePageCount = 5
	FullPageCount   = 25
)

// Default fallbacks used when reconstructing input from a persisted record
// whose optional fields were never filled in.
const (
	DefaultChildAge    = 5
	DefaultChildGender = "Boy"
)

// UserInput is the validated generation request collected from the form.
// It is immutable once generation starts; the pipeline receives it by value.
type UserInput struct {
	Category Category `json:"category" dynamodbav:"category"`

	ChildName            string `json:"childName" dynamodbav:"childName"`
	ChildAge             int    `json:"childAge" dynamodbav:"childAge"`
	ChildGender          string `json:"childGender" dynamodbav:"childGender"`
	CharacterDescription string `json:"characterDescription" dynamodbav:"characterDescription"`

	// Prompt is the free-text narrative idea ("We saw a lion who was
	// sleeping. Leo ate a giant ice cream.").
	Prompt string `json:"prompt" dynamodbav:"prompt"`

	PageCount int `json:"pageCount" dynamodbav:"pageCount"`

	// Adventure-specific fields.
	Location     string `json:"location,omitempty" dynamodbav:"location,omitempty"`
	Participants string `json:"participants,omitempty" dynamodbav:"participants,omitempty"`

	// Milestone-specific fields.
	MilestoneType string `json:"milestoneType,omitempty" dynamodbav:"milestoneType,omitempty"`
	Mood          string `json:"mood,omitempty" dynamodbav:"mood,omitempty"`
}

// Validate checks the required fields before any backend call is made.
func (in UserInput) Validate() error {
	if in.ChildName == "" {
		return fmt.Errorf("childName is required")
	}
	if in.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if !in.Category.Valid() {
		return fmt.Errorf("unknown category %q", in.Category)
	}
	if in.PageCount != SamplePageCount && in.PageCount != FullPageCount {
		return fmt.Errorf("pageCount must be %d or %d, got %d", SamplePageCount, FullPageCount, in.PageCount)
	}
	return nil
}

// IsSample reports whether this input requests the free sample book.
func (in UserInput) IsSample() bool {
	return in.PageCount <= SamplePageCount
}

// Page is one unit of generated output: narrative text, the illustration
// prompt it was generated from, and the uploaded image references.
type Page struct {
	Text        string `json:"text" dynamodbav:"text"`
	ImagePrompt string `json:"imagePrompt" dynamodbav:"imagePrompt"`

	// GeneratedImage is the durable URL of the line-art illustration,
	// populated once the image call and upload for this page succeed.
	GeneratedImage string `json:"generatedImage,omitempty" dynamodbav:"generatedImage,omitempty"`

	// ColoredImage is the user-colored version, filled in by the coloring
	// UI outside the generation pipeline. Preserved across re-persists.
	ColoredImage string `json:"coloredImage,omitempty" dynamodbav:"coloredImage,omitempty"`
}

// Story is the assembled book. The ID is minted once and reused across
// retries and revisions of the same book.
type Story struct {
	ID        string    `json:"id" dynamodbav:"id"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
	Title     string    `json:"title" dynamodbav:"title"`
	Pages     []Page    `json:"pages" dynamodbav:"pages"`
	Category  Category  `json:"category" dynamodbav:"category"`

	// IsSample is true for 5-page free books; IsUnlocked is true when the
	// book is paid for (or was never a sample to begin with).
	IsSample   bool `json:"isSample" dynamodbav:"isSample"`
	IsUnlocked bool `json:"isUnlocked" dynamodbav:"isUnlocked"`

	CoverImage string `json:"coverImage,omitempty" dynamodbav:"coverImage,omitempty"`

	// Denormalized input fields, kept on the story so the library and the
	// retry path never need to re-collect form state.
	ChildName            string `json:"childName" dynamodbav:"childName"`
	ChildAge             int    `json:"childAge" dynamodbav:"childAge"`
	ChildGender          string `json:"childGender" dynamodbav:"childGender"`
	CharacterDescription string `json:"characterDescription" dynamodbav:"characterDescription"`
	OriginalPrompt       string `json:"originalPrompt" dynamodbav:"originalPrompt"`
}

// PageCount returns the number of pages in the assembled story.
func (s *Story) PageCount() int {
	return len(s.Pages)
}
