// Package pipeline runs the multi-stage book generation flow: story
// structure, sequential page illustration, cover art, and persistence. Every
// stage writes its output to the book record before the next stage starts,
// so a crashed run leaves a failed record that the retry path can resume
// from, and a polling browser always sees live progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fpang/ai-storybook-studio/internal/assets"
	"github.com/fpang/ai-storybook-studio/internal/store"
	"github.com/fpang/ai-storybook-studio/internal/story"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Progress step labels. These are displayed verbatim by the browser while it
// polls the book record, so they are user-facing copy, not debug strings.
const (
	StepWeavingStory     = "Weaving the story..."
	StepSketchingScenes  = "Sketching the scenes..."
	StepDesigningCover   = "Designing the cover..."
	StepFinishingTouches = "Finishing touches..."
)

// DrawingStep returns the per-page progress label ("Drawing page 3 of 25...").
func DrawingStep(pageIndex, total int) string {
	return fmt.Sprintf("Drawing page %d of %d...", pageIndex+1, total)
}

// DrawingPercent maps a page index onto the 30-90 band of the progress bar.
func DrawingPercent(pageIndex, total int) int {
	return 30 + pageIndex*60/total
}

// Image is a generated illustration ready for upload.
type Image struct {
	Data     []byte
	MIMEType string
}

// StoryGenerator produces the title and page structure for validated input.
type StoryGenerator interface {
	GenerateStructure(ctx context.Context, in story.UserInput) (title string, pages []story.Page, err error)
}

// Illustrator produces page and cover artwork.
type Illustrator interface {
	Illustration(ctx context.Context, scenePrompt, characterContext string) (Image, error)
	Cover(ctx context.Context, req assets.CoverRequest, characterContext string) (Image, error)
}

// AssetStore persists artwork and returns durable URLs.
type AssetStore interface {
	UploadPageImage(ctx context.Context, bookID string, pageIndex int, data []byte, mimeType string) (string, error)
	UploadCoverImage(ctx context.Context, bookID string, data []byte, mimeType string) (string, error)
}

// RecordStore is the slice of the book store the pipeline needs.
type RecordStore interface {
	GetBook(ctx context.Context, userID, bookID string) (*store.BookRecord, error)
	PutBook(ctx context.Context, userID string, book *store.BookRecord) error
	TransitionStatus(ctx context.Context, userID, bookID, to string, allowedFrom ...string) error
	UpdateProgress(ctx context.Context, userID, bookID string, p store.Progress) error
	MarkFailed(ctx context.Context, userID, bookID, errMsg string) error
	LinkOrder(ctx context.Context, userID, bookID, orderID string) error
}

// ProgressFunc observes progress updates as they are persisted. Optional;
// used by the CLI to render a live progress bar.
type ProgressFunc func(p store.Progress)

// RunOptions carries the per-run flags that change how a book is created.
type RunOptions struct {
	// DraftID, when set, names a pre-payment draft record that MUST already
	// exist. The run updates that record in place and never inserts a new
	// one, so a paid book can never be orphaned by an ID mismatch.
	DraftID string

	// ExistingStoryID, when set, reuses a prior book's ID (revisions and
	// retries). The regenerated book replaces the old one under the same ID.
	ExistingStoryID string

	// IsRevision marks the run as a revision of an existing book.
	IsRevision bool

	// OrderID, when set, is stamped onto the completed record. Linking is
	// best-effort: a generated book is never failed because the order link
	// could not be written.
	OrderID string

	// Progress, when set, observes each persisted progress update.
	Progress ProgressFunc
}

// MaxRevisions is the number of free revisions per purchased book.
const MaxRevisions = 1

// Orchestrator coordinates one generation run end to end.
type Orchestrator struct {
	Stories StoryGenerator
	Images  Illustrator
	Assets  AssetStore
	Store   RecordStore

	// Pacer spaces illustration calls. Defaults to a 1.5s rate pacer.
	Pacer Pacer

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) pacer() Pacer {
	if o.Pacer != nil {
		return o.Pacer
	}
	return NewPacer(DefaultImageInterval)
}

// Run generates a complete book for the given input and returns the final
// record. On failure the record is marked failed with whatever pages already
// uploaded, and the returned error carries the failure Kind.
func (o *Orchestrator) Run(ctx context.Context, userID string, in story.UserInput, opts RunOptions) (*store.BookRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, mark(KindValidation, "", err)
	}

	record, err := o.claimRecord(ctx, userID, in, opts)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("userId", userID).
		Str("bookId", record.ID).
		Str("category", string(in.Category)).
		Int("pageCount", in.PageCount).
		Bool("revision", opts.IsRevision).
		Msg("Book generation started")

	if err := o.generate(ctx, userID, record, in, opts); err != nil {
		// A lost status race means another worker owns the record now;
		// marking it failed here would clobber that worker's result.
		if KindOf(err) != KindInvalidState {
			o.fail(userID, record.ID, err)
		}
		return nil, err
	}

	if opts.OrderID != "" {
		if linkErr := o.Store.LinkOrder(ctx, userID, record.ID, opts.OrderID); linkErr != nil {
			// Best-effort: the book generated fine, keep it completed.
			log.Warn().Err(linkErr).
				Str("bookId", record.ID).
				Str("orderId", opts.OrderID).
				Msg("Failed to link order to completed book")
		}
	}

	log.Info().
		Str("bookId", record.ID).
		Str("title", record.Story.Title).
		Int("pages", len(record.Story.Pages)).
		Msg("Book generation complete")

	return record, nil
}

// claimRecord resolves the record this run owns and moves it to generating.
// New samples insert a fresh record; drafts and reruns update in place,
// guarded by a conditional status transition so two workers can never
// generate the same book at once.
func (o *Orchestrator) claimRecord(ctx context.Context, userID string, in story.UserInput, opts RunOptions) (*store.BookRecord, error) {
	bookID := opts.DraftID
	if bookID == "" {
		bookID = opts.ExistingStoryID
	}

	if bookID != "" {
		record, err := o.Store.GetBook(ctx, userID, bookID)
		if err != nil {
			return nil, mark(KindPersistence, "", err)
		}
		if record == nil {
			if opts.DraftID != "" {
				return nil, mark(KindInvalidState, "", fmt.Errorf("draft %s does not exist", opts.DraftID))
			}
			return nil, mark(KindInvalidState, "", fmt.Errorf("book %s does not exist", bookID))
		}

		allowedFrom := []string{store.StatusDraft, store.StatusPurchased, store.StatusFailed}
		if opts.IsRevision {
			allowedFrom = append(allowedFrom, store.StatusCompleted)
		}
		if err := o.Store.TransitionStatus(ctx, userID, bookID, store.StatusGenerating, allowedFrom...); err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				return nil, mark(KindInvalidState, "", err)
			}
			return nil, mark(KindPersistence, "", err)
		}

		record.Status = store.StatusGenerating
		record.Input = in
		record.Error = ""
		record.GenerationStartedAt = o.now().Unix()
		record.GenerationCompletedAt = 0
		return record, nil
	}

	// Fresh sample or unpaid full book: mint a new ID and insert.
	record := &store.BookRecord{
		ID:                  uuid.NewString(),
		UserID:              userID,
		Status:              store.StatusGenerating,
		Input:               in,
		GenerationStartedAt: o.now().Unix(),
	}
	if err := o.Store.PutBook(ctx, userID, record); err != nil {
		return nil, mark(KindPersistence, "", err)
	}
	return record, nil
}

// generate runs the four stages against a claimed record.
func (o *Orchestrator) generate(ctx context.Context, userID string, record *store.BookRecord, in story.UserInput, opts RunOptions) error {
	report := func(step string, percent, completed int) error {
		p := store.Progress{
			CurrentStep:     step,
			ProgressPercent: percent,
			TotalImages:     in.PageCount + 1, // pages plus cover
			CompletedImages: completed,
		}
		record.Progress = p
		if err := o.Store.UpdateProgress(ctx, userID, record.ID, p); err != nil {
			return mark(KindPersistence, step, err)
		}
		if opts.Progress != nil {
			opts.Progress(p)
		}
		return nil
	}

	// Stage 1: story structure.
	if err := report(StepWeavingStory, 10, 0); err != nil {
		return err
	}
	title, pages, err := o.Stories.GenerateStructure(ctx, in)
	if err != nil {
		return mark(KindGeneration, StepWeavingStory, err)
	}

	// The creation timestamp is minted once with the ID; retries and
	// revisions keep the original.
	createdAt := record.Story.CreatedAt
	if createdAt.IsZero() {
		createdAt = o.now()
	}

	record.Story = story.Story{
		ID:                   record.ID,
		CreatedAt:            createdAt,
		Title:                title,
		Pages:                pages,
		Category:             in.Category,
		IsSample:             in.IsSample(),
		IsUnlocked:           !in.IsSample(),
		ChildName:            in.ChildName,
		ChildAge:             in.ChildAge,
		ChildGender:          in.ChildGender,
		CharacterDescription: in.CharacterDescription,
		OriginalPrompt:       in.Prompt,
	}
	if err := o.Store.PutBook(ctx, userID, record); err != nil {
		return mark(KindPersistence, StepWeavingStory, err)
	}

	// Stage 2: sequential page illustration. Pages are persisted one at a
	// time so a failure keeps everything drawn so far.
	if err := report(StepSketchingScenes, 30, 0); err != nil {
		return err
	}
	characterContext := story.CharacterContext(in)
	pacer := o.pacer()

	for i := range record.Story.Pages {
		step := DrawingStep(i, len(record.Story.Pages))
		if err := report(step, DrawingPercent(i, len(record.Story.Pages)), i); err != nil {
			return err
		}

		if err := pacer.Wait(ctx); err != nil {
			return mark(KindCanceled, step, err)
		}

		img, err := o.Images.Illustration(ctx, record.Story.Pages[i].ImagePrompt, characterContext)
		if err != nil {
			return mark(KindGeneration, step, err)
		}

		url, err := o.Assets.UploadPageImage(ctx, record.ID, i, img.Data, img.MIMEType)
		if err != nil {
			return mark(KindStorage, step, err)
		}

		record.Story.Pages[i].GeneratedImage = url
		if err := o.Store.PutBook(ctx, userID, record); err != nil {
			return mark(KindPersistence, step, err)
		}
	}

	// Stage 3: cover.
	if err := report(StepDesigningCover, 95, len(record.Story.Pages)); err != nil {
		return err
	}
	if err := pacer.Wait(ctx); err != nil {
		return mark(KindCanceled, StepDesigningCover, err)
	}
	cover, err := o.Images.Cover(ctx, assets.CoverRequest{
		Category:             string(in.Category),
		Title:                record.Story.Title,
		ChildName:            in.ChildName,
		CharacterDescription: in.CharacterDescription,
	}, characterContext)
	if err != nil {
		return mark(KindGeneration, StepDesigningCover, err)
	}
	coverURL, err := o.Assets.UploadCoverImage(ctx, record.ID, cover.Data, cover.MIMEType)
	if err != nil {
		return mark(KindStorage, StepDesigningCover, err)
	}
	record.Story.CoverImage = coverURL

	// Stage 4: finalize. The conditional transition is the commit point; a
	// stale worker that lost the record loses here and changes nothing.
	if err := report(StepFinishingTouches, 100, len(record.Story.Pages)+1); err != nil {
		return err
	}
	if opts.IsRevision {
		record.Revisions++
	}
	if err := o.Store.TransitionStatus(ctx, userID, record.ID, store.StatusCompleted, store.StatusGenerating); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return mark(KindInvalidState, StepFinishingTouches, err)
		}
		return mark(KindPersistence, StepFinishingTouches, err)
	}
	record.Status = store.StatusCompleted
	record.GenerationCompletedAt = o.now().Unix()
	if err := o.Store.PutBook(ctx, userID, record); err != nil {
		return mark(KindPersistence, StepFinishingTouches, err)
	}

	return nil
}

// fail marks the record failed, preserving already-uploaded pages. Uses a
// background context so a canceled run can still record its failure.
func (o *Orchestrator) fail(userID, bookID string, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.Store.MarkFailed(ctx, userID, bookID, runErr.Error()); err != nil {
		log.Error().Err(err).
			Str("bookId", bookID).
			Msg("Failed to mark book as failed")
		return
	}
	log.Warn().
		Str("bookId", bookID).
		Str("kind", string(KindOf(runErr))).
		Err(runErr).
		Msg("Book generation failed")
}
