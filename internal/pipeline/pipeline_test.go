package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/ai-storybook-studio/internal/assets"
	"github.com/fpang/ai-storybook-studio/internal/store"
	"github.com/fpang/ai-storybook-studio/internal/story"
)

// --- Fakes ---

type fakeStories struct {
	lastInput story.UserInput
	err       error
}

func (f *fakeStories) GenerateStructure(ctx context.Context, in story.UserInput) (string, []story.Page, error) {
	f.lastInput = in
	if f.err != nil {
		return "", nil, f.err
	}
	pages := make([]story.Page, in.PageCount)
	for i := range pages {
		pages[i] = story.Page{
			Text:        fmt.Sprintf("%s does something on page %d.", in.ChildName, i+1),
			ImagePrompt: fmt.Sprintf("scene %d", i+1),
		}
	}
	return in.ChildName + " and the Big Day", pages, nil
}

type fakeImages struct {
	calls      int
	failAtCall int // 1-based call number to fail at; 0 = never
	contexts   []string
	coverCalls int
	coverErr   error
}

func (f *fakeImages) Illustration(ctx context.Context, scenePrompt, characterContext string) (Image, error) {
	f.calls++
	f.contexts = append(f.contexts, characterContext)
	if f.failAtCall != 0 && f.calls == f.failAtCall {
		return Image{}, fmt.Errorf("model refused scene %q", scenePrompt)
	}
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}
	return Image{Data: []byte("img:" + scenePrompt), MIMEType: "image/png"}, nil
}

func (f *fakeImages) Cover(ctx context.Context, req assets.CoverRequest, characterContext string) (Image, error) {
	f.coverCalls++
	if f.coverErr != nil {
		return Image{}, f.coverErr
	}
	return Image{Data: []byte("cover:" + req.Title), MIMEType: "image/png"}, nil
}

type fakeAssets struct {
	pageUploads  int
	coverUploads int
	uploadErr    error
}

func (f *fakeAssets) UploadPageImage(ctx context.Context, bookID string, pageIndex int, data []byte, mimeType string) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.pageUploads++
	return fmt.Sprintf("https://cdn.test/books/%s/page-%02d.png", bookID, pageIndex+1), nil
}

func (f *fakeAssets) UploadCoverImage(ctx context.Context, bookID string, data []byte, mimeType string) (string, error) {
	f.coverUploads++
	return fmt.Sprintf("https://cdn.test/books/%s/cover.png", bookID), nil
}

// fakeStore is an in-memory RecordStore with the same conditional-transition
// semantics as the DynamoDB implementation.
type fakeStore struct {
	mu        sync.Mutex
	books     map[string]*store.BookRecord
	statusLog map[string][]string
	linkCalls []string
	linkErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		books:     make(map[string]*store.BookRecord),
		statusLog: make(map[string][]string),
	}
}

func copyRecord(r *store.BookRecord) *store.BookRecord {
	cp := *r
	cp.Story.Pages = append([]story.Page(nil), r.Story.Pages...)
	return &cp
}

func (f *fakeStore) seed(r *store.BookRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[r.ID] = copyRecord(r)
	f.statusLog[r.ID] = []string{r.Status}
}

func (f *fakeStore) GetBook(ctx context.Context, userID, bookID string) (*store.BookRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.books[bookID]
	if !ok {
		return nil, nil
	}
	return copyRecord(r), nil
}

func (f *fakeStore) PutBook(ctx context.Context, userID string, book *store.BookRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, existed := f.books[book.ID]
	f.books[book.ID] = copyRecord(book)
	if !existed || prev.Status != book.Status {
		f.statusLog[book.ID] = append(f.statusLog[book.ID], book.Status)
	}
	return nil
}

func (f *fakeStore) TransitionStatus(ctx context.Context, userID, bookID, to string, allowedFrom ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.books[bookID]
	if !ok {
		return fmt.Errorf("book %s: %w", bookID, store.ErrStatusConflict)
	}
	for _, from := range allowedFrom {
		if r.Status == from {
			r.Status = to
			f.statusLog[bookID] = append(f.statusLog[bookID], to)
			return nil
		}
	}
	return fmt.Errorf("book %s is %s: %w", bookID, r.Status, store.ErrStatusConflict)
}

func (f *fakeStore) UpdateProgress(ctx context.Context, userID, bookID string, p store.Progress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.books[bookID]; ok {
		r.Progress = p
	}
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, userID, bookID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.books[bookID]; ok {
		r.Status = store.StatusFailed
		r.Error = errMsg
		f.statusLog[bookID] = append(f.statusLog[bookID], store.StatusFailed)
	}
	return nil
}

func (f *fakeStore) LinkOrder(ctx context.Context, userID, bookID, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkCalls = append(f.linkCalls, orderID)
	if f.linkErr != nil {
		return f.linkErr
	}
	if r, ok := f.books[bookID]; ok {
		r.OrderID = orderID
	}
	return nil
}

func (f *fakeStore) get(bookID string) *store.BookRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyRecord(f.books[bookID])
}

type fakePacer struct {
	waits int
}

func (f *fakePacer) Wait(ctx context.Context) error {
	f.waits++
	return ctx.Err()
}

// --- Helpers ---

func sampleInput() story.UserInput {
	return story.UserInput{
		Category:             story.CategoryAdventure,
		ChildName:            "Leo",
		ChildAge:             6,
		ChildGender:          "Boy",
		CharacterDescription: "curly brown hair and red glasses",
		Prompt:               "A trip to the zoo where a lion was sleeping",
		PageCount:            story.SamplePageCount,
	}
}

func newTestOrchestrator(st *fakeStore) (*Orchestrator, *fakeStories, *fakeImages, *fakeAssets, *fakePacer) {
	stories := &fakeStories{}
	images := &fakeImages{}
	assetStore := &fakeAssets{}
	pacer := &fakePacer{}
	o := &Orchestrator{
		Stories: stories,
		Images:  images,
		Assets:  assetStore,
		Store:   st,
		Pacer:   pacer,
	}
	return o, stories, images, assetStore, pacer
}

// --- Run tests ---

func TestRunSampleHappyPath(t *testing.T) {
	st := newFakeStore()
	o, _, images, assetStore, pacer := newTestOrchestrator(st)

	var steps []string
	record, err := o.Run(context.Background(), "user-1", sampleInput(), RunOptions{
		Progress: func(p store.Progress) { steps = append(steps, fmt.Sprintf("%s|%d", p.CurrentStep, p.ProgressPercent)) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if record.Status != store.StatusCompleted {
		t.Errorf("status = %q, want completed", record.Status)
	}
	if record.Story.Title == "" || len(record.Story.Pages) != 5 {
		t.Fatalf("story = %q with %d pages", record.Story.Title, len(record.Story.Pages))
	}
	for i, p := range record.Story.Pages {
		if !strings.Contains(p.GeneratedImage, fmt.Sprintf("page-%02d.png", i+1)) {
			t.Errorf("page %d image URL = %q", i, p.GeneratedImage)
		}
	}
	if record.Story.CoverImage == "" {
		t.Error("missing cover image URL")
	}
	if !record.Story.IsSample || record.Story.IsUnlocked {
		t.Errorf("sample flags: IsSample=%v IsUnlocked=%v", record.Story.IsSample, record.Story.IsUnlocked)
	}
	if record.GenerationStartedAt == 0 {
		t.Error("generation start was never stamped")
	}
	if record.GenerationCompletedAt < record.GenerationStartedAt {
		t.Errorf("completion stamp %d precedes start %d", record.GenerationCompletedAt, record.GenerationStartedAt)
	}

	// One paced wait per illustration call plus one for the cover.
	if pacer.waits != 6 {
		t.Errorf("pacer waits = %d, want 6", pacer.waits)
	}
	if images.calls != 5 || images.coverCalls != 1 {
		t.Errorf("image calls = %d/%d, want 5/1", images.calls, images.coverCalls)
	}
	if assetStore.pageUploads != 5 || assetStore.coverUploads != 1 {
		t.Errorf("uploads = %d/%d, want 5/1", assetStore.pageUploads, assetStore.coverUploads)
	}

	wantSteps := []string{
		"Weaving the story...|10",
		"Sketching the scenes...|30",
		"Drawing page 1 of 5...|30",
		"Drawing page 2 of 5...|42",
		"Drawing page 3 of 5...|54",
		"Drawing page 4 of 5...|66",
		"Drawing page 5 of 5...|78",
		"Designing the cover...|95",
		"Finishing touches...|100",
	}
	if len(steps) != len(wantSteps) {
		t.Fatalf("progress steps = %v", steps)
	}
	for i, want := range wantSteps {
		if steps[i] != want {
			t.Errorf("step %d = %q, want %q", i, steps[i], want)
		}
	}
}

func TestRunIdenticalCharacterContextEveryPage(t *testing.T) {
	st := newFakeStore()
	o, _, images, _, _ := newTestOrchestrator(st)

	if _, err := o.Run(context.Background(), "user-1", sampleInput(), RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(images.contexts) != 5 {
		t.Fatalf("contexts = %d", len(images.contexts))
	}
	for i, c := range images.contexts {
		if c != images.contexts[0] {
			t.Errorf("context for page %d differs from page 1", i+1)
		}
		if !strings.Contains(c, "Leo") || !strings.Contains(c, "red glasses") {
			t.Errorf("context missing character details: %q", c)
		}
	}
}

func TestRunValidationError(t *testing.T) {
	st := newFakeStore()
	o, _, _, _, _ := newTestOrchestrator(st)

	in := sampleInput()
	in.ChildName = ""
	_, err := o.Run(context.Background(), "user-1", in, RunOptions{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if KindOf(err) != KindValidation {
		t.Errorf("kind = %v, want validation", KindOf(err))
	}
	if len(st.books) != 0 {
		t.Error("no record should be created for invalid input")
	}
}

func TestRunDraftMustExist(t *testing.T) {
	st := newFakeStore()
	o, _, _, _, _ := newTestOrchestrator(st)

	in := sampleInput()
	in.PageCount = story.FullPageCount
	_, err := o.Run(context.Background(), "user-1", in, RunOptions{DraftID: "missing-draft"})
	if err == nil {
		t.Fatal("expected error for missing draft")
	}
	if KindOf(err) != KindInvalidState {
		t.Errorf("kind = %v, want invalid_state", KindOf(err))
	}
	if len(st.books) != 0 {
		t.Error("a missing draft must never cause an insert")
	}
}

func TestRunDraftUpdatesInPlace(t *testing.T) {
	st := newFakeStore()
	o, _, _, _, _ := newTestOrchestrator(st)

	st.seed(&store.BookRecord{ID: "draft-1", UserID: "user-1", Status: store.StatusPurchased})

	in := sampleInput()
	in.PageCount = story.FullPageCount
	record, err := o.Run(context.Background(), "user-1", in, RunOptions{DraftID: "draft-1", OrderID: "order-9"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if record.ID != "draft-1" {
		t.Errorf("record ID = %q, want draft-1", record.ID)
	}
	if len(st.books) != 1 {
		t.Errorf("store has %d records, want 1 (update, not insert)", len(st.books))
	}
	final := st.get("draft-1")
	if final.Status != store.StatusCompleted {
		t.Errorf("status = %q", final.Status)
	}
	if final.OrderID != "order-9" {
		t.Errorf("orderId = %q, want order-9", final.OrderID)
	}
	if final.Story.IsSample || !final.Story.IsUnlocked {
		t.Error("full book should be unlocked, not a sample")
	}
}

func TestRunRefusesConcurrentGeneration(t *testing.T) {
	st := newFakeStore()
	o, _, images, _, _ := newTestOrchestrator(st)

	st.seed(&store.BookRecord{ID: "busy-1", UserID: "user-1", Status: store.StatusGenerating})

	in := sampleInput()
	in.PageCount = story.FullPageCount
	_, err := o.Run(context.Background(), "user-1", in, RunOptions{DraftID: "busy-1"})
	if err == nil {
		t.Fatal("expected status conflict")
	}
	if KindOf(err) != KindInvalidState {
		t.Errorf("kind = %v, want invalid_state", KindOf(err))
	}
	if images.calls != 0 {
		t.Error("no generation calls should happen after a lost status race")
	}
	if got := st.get("busy-1").Status; got != store.StatusGenerating {
		t.Errorf("status = %q, conflicting run must not touch the record", got)
	}
}

func TestRunFailureMidwayKeepsEarlierPages(t *testing.T) {
	st := newFakeStore()
	o, _, images, assetStore, _ := newTestOrchestrator(st)
	images.failAtCall = 3

	_, err := o.Run(context.Background(), "user-1", sampleInput(), RunOptions{})
	if err == nil {
		t.Fatal("expected generation failure")
	}
	if KindOf(err) != KindGeneration {
		t.Errorf("kind = %v, want generation", KindOf(err))
	}
	if images.coverCalls != 0 {
		t.Error("cover must not be generated after a page failure")
	}
	if assetStore.pageUploads != 2 {
		t.Errorf("page uploads = %d, want 2", assetStore.pageUploads)
	}

	var bookID string
	for id := range st.books {
		bookID = id
	}
	record := st.get(bookID)
	if record.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", record.Status)
	}
	if record.Error == "" {
		t.Error("failed record must carry the error message")
	}
	if !strings.Contains(record.Progress.CurrentStep, "Drawing page 3 of 5") {
		t.Errorf("progress step = %q, want the failing step", record.Progress.CurrentStep)
	}
	for i, p := range record.Story.Pages {
		hasImage := p.GeneratedImage != ""
		if i < 2 && !hasImage {
			t.Errorf("page %d lost its image", i+1)
		}
		if i >= 2 && hasImage {
			t.Errorf("page %d should have no image", i+1)
		}
	}
}

func TestRunLinkOrderBestEffort(t *testing.T) {
	st := newFakeStore()
	o, _, _, _, _ := newTestOrchestrator(st)
	st.linkErr = errors.New("dynamo throttled")
	st.seed(&store.BookRecord{ID: "draft-2", UserID: "user-1", Status: store.StatusPurchased})

	in := sampleInput()
	in.PageCount = story.FullPageCount
	record, err := o.Run(context.Background(), "user-1", in, RunOptions{DraftID: "draft-2", OrderID: "order-1"})
	if err != nil {
		t.Fatalf("Run should succeed despite link failure: %v", err)
	}
	if record.Status != store.StatusCompleted {
		t.Errorf("status = %q, want completed", record.Status)
	}
	if len(st.linkCalls) != 1 {
		t.Errorf("link calls = %d, want 1", len(st.linkCalls))
	}
}

func TestRunCancellation(t *testing.T) {
	st := newFakeStore()
	o, _, _, _, _ := newTestOrchestrator(st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx, "user-1", sampleInput(), RunOptions{})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if KindOf(err) != KindCanceled {
		t.Errorf("kind = %v, want canceled", KindOf(err))
	}
}

func TestRunStatusNeverRegresses(t *testing.T) {
	st := newFakeStore()
	o, _, _, _, _ := newTestOrchestrator(st)
	st.seed(&store.BookRecord{ID: "draft-3", UserID: "user-1", Status: store.StatusDraft})

	in := sampleInput()
	in.PageCount = story.FullPageCount
	if _, err := o.Run(context.Background(), "user-1", in, RunOptions{DraftID: "draft-3"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	log := st.statusLog["draft-3"]
	rank := map[string]int{
		store.StatusDraft:      0,
		store.StatusPurchased:  1,
		store.StatusGenerating: 2,
		store.StatusCompleted:  3,
		store.StatusFailed:     3,
	}
	for i := 1; i < len(log); i++ {
		if rank[log[i]] < rank[log[i-1]] {
			t.Errorf("status regressed: %v", log)
		}
	}
}

func TestRatePacerSpacesCalls(t *testing.T) {
	interval := 20 * time.Millisecond
	p := NewPacer(interval)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 2*interval {
		t.Errorf("3 waits took %v, want at least %v", elapsed, 2*interval)
	}
}

func TestRetryableKinds(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindValidation, false},
		{KindQuotaExceeded, false},
		{KindInvalidState, false},
		{KindGeneration, true},
		{KindStorage, true},
		{KindPersistence, true},
		{KindCanceled, true},
	}
	for _, tt := range tests {
		err := &Error{Kind: tt.kind, Err: errors.New("x")}
		if got := Retryable(err); got != tt.want {
			t.Errorf("Retryable(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
