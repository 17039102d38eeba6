package main

// generate.go handles the generate, retry, and revise job types. Each builds
// a pipeline orchestrator for the invocation and lets it drive the book
// record through DynamoDB. Pipeline failures are recorded on the book, so
// handlers return nil rather than triggering the Lambda retry policy; only
// misconfiguration propagates as a handler error.

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-storybook-studio/internal/bookgen"
	"github.com/fpang/ai-storybook-studio/internal/metrics"
	"github.com/fpang/ai-storybook-studio/internal/pipeline"
)

// buildOrchestrator wires the Gemini clients, asset store, and book store
// into a pipeline orchestrator for one invocation.
func buildOrchestrator(ctx context.Context) (*pipeline.Orchestrator, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	client, err := bookgen.NewGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &pipeline.Orchestrator{
		Stories: bookgen.NewStructureGenerator(client),
		Images:  &pipeline.GeminiIllustrator{Client: bookgen.NewImageClient(apiKey)},
		Assets:  assetStore,
		Store:   bookStore,
	}, nil
}

func handleGenerate(ctx context.Context, event WorkerEvent) error {
	jobStart := time.Now()

	if event.Input == nil {
		log.Error().Str("userId", event.UserID).Msg("Generate event missing input")
		return nil
	}

	orch, err := buildOrchestrator(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Gemini client")
		return err
	}

	record, err := orch.Run(ctx, event.UserID, *event.Input, pipeline.RunOptions{
		DraftID: event.DraftID,
		OrderID: event.OrderID,
	})
	flushJobMetrics("generate", event, record != nil && err == nil, jobStart)
	if err != nil {
		// The pipeline already marked the book failed with the error detail.
		log.Error().Err(err).
			Str("userId", event.UserID).
			Str("kind", string(pipeline.KindOf(err))).
			Dur("duration", time.Since(jobStart)).
			Msg("Book generation failed")
		return nil
	}

	// Quota is charged only when the sample actually completes; a failed
	// run stays free to retry.
	if record.Story.IsSample {
		if used, qErr := bookStore.IncrementSamplesUsed(ctx, event.UserID); qErr != nil {
			log.Warn().Err(qErr).Str("userId", event.UserID).Msg("Failed to increment sample counter")
		} else {
			log.Debug().Int("samplesUsed", used).Str("userId", event.UserID).Msg("Sample counter incremented")
		}
	}

	log.Info().
		Str("userId", event.UserID).
		Str("bookId", record.ID).
		Int("pages", len(record.Story.Pages)).
		Dur("duration", time.Since(jobStart)).
		Msg("Book generation complete")
	return nil
}

func handleRetry(ctx context.Context, event WorkerEvent) error {
	jobStart := time.Now()

	orch, err := buildOrchestrator(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Gemini client")
		return err
	}

	record, err := orch.Retry(ctx, event.UserID, event.BookID)
	flushJobMetrics("retry", event, err == nil, jobStart)
	if err != nil {
		log.Error().Err(err).
			Str("userId", event.UserID).
			Str("bookId", event.BookID).
			Str("kind", string(pipeline.KindOf(err))).
			Msg("Book retry failed")
		return nil
	}

	log.Info().
		Str("userId", event.UserID).
		Str("bookId", record.ID).
		Dur("duration", time.Since(jobStart)).
		Msg("Book retry complete")
	return nil
}

func handleRevise(ctx context.Context, event WorkerEvent) error {
	jobStart := time.Now()

	orch, err := buildOrchestrator(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Gemini client")
		return err
	}

	record, err := orch.Revise(ctx, event.UserID, event.BookID, event.RevisedPrompt)
	flushJobMetrics("revise", event, err == nil, jobStart)
	if err != nil {
		log.Error().Err(err).
			Str("userId", event.UserID).
			Str("bookId", event.BookID).
			Str("kind", string(pipeline.KindOf(err))).
			Msg("Book revision failed")
		return nil
	}

	log.Info().
		Str("userId", event.UserID).
		Str("bookId", record.ID).
		Int("revisions", record.Revisions).
		Dur("duration", time.Since(jobStart)).
		Msg("Book revision complete")
	return nil
}

// flushJobMetrics emits one EMF document per pipeline job.
func flushJobMetrics(jobType string, event WorkerEvent, success bool, jobStart time.Time) {
	rec := metrics.ForOperation(jobType).
		Duration("JobDurationMs", time.Since(jobStart)).
		Property("userId", event.UserID)
	if event.BookID != "" {
		rec = rec.Property("bookId", event.BookID)
	}
	if success {
		rec = rec.Count("JobSuccess")
	} else {
		rec = rec.Count("JobFailure")
	}
	rec.Flush()
}
