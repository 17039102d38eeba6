package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/fpang/ai-storybook-studio/internal/store"
	"github.com/fpang/ai-storybook-studio/internal/story"
)

func failedRecord(id string) *store.BookRecord {
	return &store.BookRecord{
		ID:     id,
		UserID: "user-1",
		Status: store.StatusFailed,
		Input:  sampleInput(),
		Error:  "model refused scene",
	}
}

func TestRetryRerunsFailedBookUnderSameID(t *testing.T) {
	st := newFakeStore()
	o, _, _, _, _ := newTestOrchestrator(st)
	st.seed(failedRecord("book-1"))

	record, err := o.Retry(context.Background(), "user-1", "book-1")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if record.ID != "book-1" {
		t.Errorf("retry minted a new ID: %q", record.ID)
	}
	if record.Status != store.StatusCompleted {
		t.Errorf("status = %q, want completed", record.Status)
	}
	if record.Error != "" {
		t.Errorf("stale error kept on record: %q", record.Error)
	}
	if len(st.books) != 1 {
		t.Errorf("store has %d records, want 1", len(st.books))
	}
}

func TestRetryKeepsOriginalOrderWithoutRelinking(t *testing.T) {
	st := newFakeStore()
	o, _, _, _, _ := newTestOrchestrator(st)
	r := failedRecord("book-2")
	r.OrderID = "order-7"
	st.seed(r)

	if _, err := o.Retry(context.Background(), "user-1", "book-2"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if len(st.linkCalls) != 0 {
		t.Errorf("retry linked an order: %v", st.linkCalls)
	}
	if got := st.get("book-2").OrderID; got != "order-7" {
		t.Errorf("order link lost on retry: %q", got)
	}
}

func TestRetryPreservesStoryCreatedAt(t *testing.T) {
	st := newFakeStore()
	o, _, _, _, _ := newTestOrchestrator(st)
	r := failedRecord("book-7")
	minted := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	r.Story = story.Story{ID: "book-7", CreatedAt: minted}
	st.seed(r)

	record, err := o.Retry(context.Background(), "user-1", "book-7")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !record.Story.CreatedAt.Equal(minted) {
		t.Errorf("story createdAt = %v, want original %v", record.Story.CreatedAt, minted)
	}
}

func TestRetryRequiresFailedStatus(t *testing.T) {
	for _, status := range []string{store.StatusDraft, store.StatusPurchased, store.StatusGenerating, store.StatusCompleted} {
		t.Run(status, func(t *testing.T) {
			st := newFakeStore()
			o, _, images, _, _ := newTestOrchestrator(st)
			r := failedRecord("book-3")
			r.Status = status
			st.seed(r)

			_, err := o.Retry(context.Background(), "user-1", "book-3")
			if err == nil {
				t.Fatal("expected invalid-state error")
			}
			if KindOf(err) != KindInvalidState {
				t.Errorf("kind = %v, want invalid_state", KindOf(err))
			}
			if images.calls != 0 {
				t.Error("no generation should happen")
			}
			if got := st.get("book-3").Status; got != status {
				t.Errorf("status changed from %q to %q", status, got)
			}
		})
	}
}

func TestRetryUnknownBook(t *testing.T) {
	st := newFakeStore()
	o, _, _, _, _ := newTestOrchestrator(st)

	_, err := o.Retry(context.Background(), "user-1", "nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindInvalidState {
		t.Errorf("kind = %v, want invalid_state", KindOf(err))
	}
}

func TestRetryReconstructsInputWithDefaults(t *testing.T) {
	st := newFakeStore()
	o, stories, _, _, _ := newTestOrchestrator(st)

	// An old record: no input snapshot, only partial denormalized fields.
	st.seed(&store.BookRecord{
		ID:     "book-old",
		UserID: "user-1",
		Status: store.StatusFailed,
		Story: story.Story{
			ID:             "book-old",
			Category:       story.CategoryMemory,
			ChildName:      "Mia",
			OriginalPrompt: "The day at the beach",
		},
	})

	if _, err := o.Retry(context.Background(), "user-1", "book-old"); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	in := stories.lastInput
	if in.ChildName != "Mia" || in.Prompt != "The day at the beach" {
		t.Errorf("reconstructed input lost fields: %+v", in)
	}
	if in.ChildGender != story.DefaultChildGender {
		t.Errorf("gender = %q, want default %q", in.ChildGender, story.DefaultChildGender)
	}
	if in.ChildAge != story.DefaultChildAge {
		t.Errorf("age = %d, want default %d", in.ChildAge, story.DefaultChildAge)
	}
	if in.PageCount != story.FullPageCount {
		t.Errorf("pageCount = %d, want default %d", in.PageCount, story.FullPageCount)
	}
}

func TestReviseHappyPath(t *testing.T) {
	st := newFakeStore()
	o, stories, _, _, _ := newTestOrchestrator(st)
	r := failedRecord("book-4")
	r.Status = store.StatusCompleted
	r.Error = ""
	st.seed(r)

	record, err := o.Revise(context.Background(), "user-1", "book-4", "Make the lion friendlier")
	if err != nil {
		t.Fatalf("Revise: %v", err)
	}
	if record.ID != "book-4" {
		t.Errorf("revision minted a new ID: %q", record.ID)
	}
	if record.Revisions != 1 {
		t.Errorf("revisions = %d, want 1", record.Revisions)
	}
	if stories.lastInput.Prompt != "Make the lion friendlier" {
		t.Errorf("revised prompt not used: %q", stories.lastInput.Prompt)
	}
}

func TestReviseQuota(t *testing.T) {
	st := newFakeStore()
	o, _, images, _, _ := newTestOrchestrator(st)
	r := failedRecord("book-5")
	r.Status = store.StatusCompleted
	r.Revisions = MaxRevisions
	st.seed(r)

	_, err := o.Revise(context.Background(), "user-1", "book-5", "again")
	if err == nil {
		t.Fatal("expected quota error")
	}
	if KindOf(err) != KindQuotaExceeded {
		t.Errorf("kind = %v, want quota_exceeded", KindOf(err))
	}
	if images.calls != 0 {
		t.Error("no generation should happen past the revision limit")
	}
}

func TestReviseRequiresCompleted(t *testing.T) {
	st := newFakeStore()
	o, _, _, _, _ := newTestOrchestrator(st)
	st.seed(failedRecord("book-6"))

	_, err := o.Revise(context.Background(), "user-1", "book-6", "x")
	if err == nil {
		t.Fatal("expected invalid-state error")
	}
	if KindOf(err) != KindInvalidState {
		t.Errorf("kind = %v, want invalid_state", KindOf(err))
	}
}
