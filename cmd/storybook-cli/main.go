// Package main provides a CLI for generating a personalized storybook
// locally, end to end: story structure, per-page line-art illustrations,
// and cover, written to an output directory instead of S3. Useful for
// prompt iteration without deploying the Lambdas.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/ai-storybook-studio/internal/bookgen"
	"github.com/fpang/ai-storybook-studio/internal/logging"
	"github.com/fpang/ai-storybook-studio/internal/pipeline"
	"github.com/fpang/ai-storybook-studio/internal/store"
	"github.com/fpang/ai-storybook-studio/internal/story"
)

// CLI flags
var (
	nameFlag        string
	ageFlag         int
	genderFlag      string
	appearanceFlag  string
	categoryFlag    string
	promptFlag      string
	fullFlag        bool
	outputFlag      string
	locationFlag    string
	participantFlag string
)

// rootCmd is the main Cobra command for the storybook CLI.
var rootCmd = &cobra.Command{
	Use:   "storybook-cli",
	Short: "AI-powered personalized children's book generator",
	Long: `Storybook CLI generates a personalized children's coloring book from a
short description of a child and a story idea. The story text, per-page
line-art illustrations, and a cover are generated with Gemini and written
to a local directory.

Examples:
  storybook-cli --name Leo --age 5 --prompt "a trip to the zoo"
  storybook-cli --name Mia --category ADVENTURE --location "the beach" --prompt "building a sandcastle" --full
  storybook-cli --name Sam --prompt "learning to ride a bike" --output ./books`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&nameFlag, "name", "n", "", "Child's name (required)")
	rootCmd.Flags().IntVar(&ageFlag, "age", story.DefaultChildAge, "Child's age")
	rootCmd.Flags().StringVar(&genderFlag, "gender", story.DefaultChildGender, "Child's gender")
	rootCmd.Flags().StringVar(&appearanceFlag, "appearance", "", "Free-text description of the child's appearance")
	rootCmd.Flags().StringVarP(&categoryFlag, "category", "c", string(story.CategoryImagination), "Story category (DREAM, ADVENTURE, MILESTONE, MEMORY, IMAGINATION)")
	rootCmd.Flags().StringVarP(&promptFlag, "prompt", "p", "", "Story idea (required)")
	rootCmd.Flags().BoolVar(&fullFlag, "full", false, "Generate a full 25-page book instead of a 5-page sample")
	rootCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output directory (default ./storybook-<name>)")
	rootCmd.Flags().StringVar(&locationFlag, "location", "", "Adventure location")
	rootCmd.Flags().StringVar(&participantFlag, "participants", "", "Adventure companions")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runMain is the main execution logic called by Cobra.
func runMain(cmd *cobra.Command, args []string) {
	logging.Init()

	if nameFlag == "" || promptFlag == "" {
		log.Fatal().Msg("--name and --prompt are required")
	}

	pageCount := story.SamplePageCount
	if fullFlag {
		pageCount = story.FullPageCount
	}

	in := story.UserInput{
		Category:             story.Category(strings.ToUpper(categoryFlag)),
		ChildName:            nameFlag,
		ChildAge:             ageFlag,
		ChildGender:          genderFlag,
		CharacterDescription: appearanceFlag,
		Prompt:               promptFlag,
		PageCount:            pageCount,
		Location:             locationFlag,
		Participants:         participantFlag,
	}
	if err := in.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid input")
	}

	outDir := outputFlag
	if outDir == "" {
		outDir = "storybook-" + strings.ToLower(nameFlag)
	}
	absDir, err := filepath.Abs(outDir)
	if err == nil {
		outDir = absDir
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		log.Fatal().Err(err).Str("dir", outDir).Msg("Failed to create output directory")
	}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal().Msg("GEMINI_API_KEY environment variable is required")
	}

	ctx := context.Background()
	client, err := bookgen.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini client")
	}
	log.Info().Msg("connection successful - Gemini client initialized")

	orch := &pipeline.Orchestrator{
		Stories: bookgen.NewStructureGenerator(client),
		Images:  &pipeline.GeminiIllustrator{Client: bookgen.NewImageClient(apiKey)},
		Assets:  &fileAssets{dir: outDir},
		Store:   newMemStore(),
	}

	record, err := orch.Run(ctx, localUserID, in, pipeline.RunOptions{
		Progress: renderProgress,
	})
	if err != nil {
		log.Fatal().Err(err).Str("kind", string(pipeline.KindOf(err))).Msg("Generation failed")
	}

	fmt.Printf("\n%q — %d pages written to %s\n", record.Story.Title, len(record.Story.Pages), outDir)
	for i, page := range record.Story.Pages {
		fmt.Printf("  page %2d: %s\n", i+1, page.Text)
	}
}

// renderProgress prints each progress update on its own line.
func renderProgress(p store.Progress) {
	fmt.Printf("[%3d%%] %s\n", p.ProgressPercent, p.CurrentStep)
}
