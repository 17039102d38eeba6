package pipeline

// retry.go implements rerunning a book under its existing ID: resuming a
// failed generation, and the one free revision of a completed book.

import (
	"context"
	"fmt"

	"github.com/fpang/ai-storybook-studio/internal/store"
	"github.com/fpang/ai-storybook-studio/internal/story"
	"github.com/rs/zerolog/log"
)

// Retry reruns generation for a failed book under its original ID. The book
// must be in failed status; any other status returns an invalid-state error
// without touching the record. Input is reconstructed from the persisted
// record, with defaults for fields older records never stored.
func (o *Orchestrator) Retry(ctx context.Context, userID, bookID string) (*store.BookRecord, error) {
	record, err := o.Store.GetBook(ctx, userID, bookID)
	if err != nil {
		return nil, mark(KindPersistence, "", err)
	}
	if record == nil {
		return nil, mark(KindInvalidState, "", fmt.Errorf("book %s does not exist", bookID))
	}
	if record.Status != store.StatusFailed {
		return nil, mark(KindInvalidState, "",
			fmt.Errorf("book %s is %s, only failed books can be retried", bookID, record.Status))
	}

	in := reconstructInput(record)
	if err := in.Validate(); err != nil {
		return nil, mark(KindValidation, "", fmt.Errorf("reconstructed input for %s: %w", bookID, err))
	}

	log.Info().
		Str("userId", userID).
		Str("bookId", bookID).
		Str("priorError", record.Error).
		Msg("Retrying failed book generation")

	// No OrderID here: a retry is not a new payment. The original order
	// link already sits on the record and survives the rerun.
	return o.Run(ctx, userID, in, RunOptions{
		ExistingStoryID: bookID,
	})
}

// Revise regenerates a completed book under its original ID with an amended
// prompt. Each purchased book gets MaxRevisions free revisions.
func (o *Orchestrator) Revise(ctx context.Context, userID, bookID, revisedPrompt string) (*store.BookRecord, error) {
	record, err := o.Store.GetBook(ctx, userID, bookID)
	if err != nil {
		return nil, mark(KindPersistence, "", err)
	}
	if record == nil {
		return nil, mark(KindInvalidState, "", fmt.Errorf("book %s does not exist", bookID))
	}
	if record.Status != store.StatusCompleted {
		return nil, mark(KindInvalidState, "",
			fmt.Errorf("book %s is %s, only completed books can be revised", bookID, record.Status))
	}
	if record.Revisions >= MaxRevisions {
		return nil, mark(KindQuotaExceeded, "",
			fmt.Errorf("book %s has used its %d revision(s)", bookID, MaxRevisions))
	}

	in := reconstructInput(record)
	if revisedPrompt != "" {
		in.Prompt = revisedPrompt
	}
	if err := in.Validate(); err != nil {
		return nil, mark(KindValidation, "", err)
	}

	log.Info().
		Str("userId", userID).
		Str("bookId", bookID).
		Int("revisions", record.Revisions).
		Msg("Revising completed book")

	return o.Run(ctx, userID, in, RunOptions{
		ExistingStoryID: bookID,
		IsRevision:      true,
		OrderID:         record.OrderID,
	})
}

// reconstructInput rebuilds generation input from a persisted record. Records
// written before the input snapshot was added fall back to the denormalized
// story fields, with defaults for anything never captured.
func reconstructInput(record *store.BookRecord) story.UserInput {
	in := record.Input
	if in.ChildName == "" {
		in.ChildName = record.Story.ChildName
	}
	if in.Prompt == "" {
		in.Prompt = record.Story.OriginalPrompt
	}
	if in.Category == "" {
		in.Category = record.Story.Category
	}
	if in.CharacterDescription == "" {
		in.CharacterDescription = record.Story.CharacterDescription
	}
	if in.ChildGender == "" {
		in.ChildGender = record.Story.ChildGender
	}
	if in.ChildAge == 0 {
		in.ChildAge = record.Story.ChildAge
	}

	// Defaults for fields absent from the oldest records.
	if in.ChildGender == "" {
		in.ChildGender = story.DefaultChildGender
	}
	if in.ChildAge == 0 {
		in.ChildAge = story.DefaultChildAge
	}
	if in.PageCount == 0 {
		in.PageCount = story.FullPageCount
	}
	return in
}
