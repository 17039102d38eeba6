package main

// books.go implements the book endpoints: creation (free sample and paid
// draft), purchase, library listing, status polling, retry, revision,
// export, and deletion. Long work is dispatched to the Worker Lambda;
// every handler returns quickly so the browser can poll.

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-storybook-studio/internal/jobs"
	"github.com/fpang/ai-storybook-studio/internal/pipeline"
	"github.com/fpang/ai-storybook-studio/internal/store"
	"github.com/fpang/ai-storybook-studio/internal/story"
)

// maxFreeSamples is the number of free sample books per account.
const maxFreeSamples = 1

// fullBookPriceCents is the fixed price of a full 25-page book.
const fullBookPriceCents = 999

// --- Creation ---

type createBookRequest struct {
	UserID string          `json:"userId"`
	Input  story.UserInput `json:"input"`
}

// POST /api/books/sample
//
// Creates a provisional record for a free 5-page sample and dispatches
// generation. The record is returned immediately so the browser can start
// polling; the worker claims it and drives it to completed or failed.
func handleCreateSample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := jobs.ValidateUserID(req.UserID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Input.PageCount = story.SamplePageCount
	if err := req.Input.Validate(); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Quota check before any work is queued. The worker increments the
	// counter only after the sample actually completes.
	profile, err := bookStore.GetProfile(r.Context(), req.UserID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to check sample quota", err.Error())
		return
	}
	if profile != nil && profile.SamplesUsed >= maxFreeSamples {
		httpError(w, http.StatusForbidden, "free sample already used")
		return
	}

	record := &store.BookRecord{
		ID:     uuid.NewString(),
		UserID: req.UserID,
		Status: store.StatusDraft,
		Input:  req.Input,
	}
	if err := bookStore.PutBook(r.Context(), req.UserID, record); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to create book", err.Error())
		return
	}

	if err := invokeWorkerAsync(r.Context(), map[string]interface{}{
		"type":    "generate",
		"userId":  req.UserID,
		"draftId": record.ID,
		"input":   req.Input,
	}); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to start generation")
		return
	}

	log.Info().Str("userId", req.UserID).Str("bookId", record.ID).Msg("Sample generation dispatched")
	respondJSON(w, http.StatusAccepted, map[string]string{
		"bookId": record.ID,
		"status": record.Status,
	})
}

// POST /api/books/draft
//
// Creates a draft record for a full 25-page book ahead of payment. Nothing
// is generated until purchase; the draft pins the book ID so the paid book
// can never be orphaned by an ID mismatch.
func handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := jobs.ValidateUserID(req.UserID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Input.PageCount = story.FullPageCount
	if err := req.Input.Validate(); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := &store.BookRecord{
		ID:     uuid.NewString(),
		UserID: req.UserID,
		Status: store.StatusDraft,
		Input:  req.Input,
	}
	if err := bookStore.PutBook(r.Context(), req.UserID, record); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to create draft", err.Error())
		return
	}

	log.Info().Str("userId", req.UserID).Str("bookId", record.ID).Msg("Draft created")
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"bookId":     record.ID,
		"status":     record.Status,
		"priceCents": fullBookPriceCents,
	})
}

// --- Library ---

// GET /api/books?userId=...
func handleLibrary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID, err := jobs.UserIDFromRequest(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	books, err := bookStore.ListBooks(r.Context(), userID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to list books", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"books": books})
}

// --- Per-book routes ---

// handleBookRoutes dispatches /api/books/{id} and /api/books/{id}/{action}.
func handleBookRoutes(w http.ResponseWriter, r *http.Request) {
	bookID, action, ok := jobs.ParseRoute(r.URL.Path, "/api/books/")
	if !ok {
		// Bare /api/books/{id}: only DELETE is supported.
		if r.Method == http.MethodDelete {
			handleDeleteBook(w, r)
			return
		}
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	if err := jobs.ValidateBookID(bookID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch action {
	case "status":
		handleBookStatus(w, r, bookID)
	case "purchase":
		handlePurchase(w, r, bookID)
	case "retry":
		handleRetryBook(w, r, bookID)
	case "revise":
		handleReviseBook(w, r, bookID)
	case "export":
		handleExportStart(w, r, bookID)
	case "export-status":
		handleExportStatus(w, r, bookID)
	default:
		httpError(w, http.StatusNotFound, "not found")
	}
}

// loadOwnedBook fetches a book scoped to the caller and writes the HTTP
// error itself when the book is missing. Returns nil when a response has
// already been sent.
func loadOwnedBook(w http.ResponseWriter, r *http.Request, userID, bookID string) *store.BookRecord {
	record, err := bookStore.GetBook(r.Context(), userID, bookID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load book", err.Error())
		return nil
	}
	if record == nil {
		httpError(w, http.StatusNotFound, "book not found")
		return nil
	}
	return record
}

// GET /api/books/{id}/status?userId=...
//
// Returns the full record including progress fields; the browser polls this
// during generation to drive the progress bar.
func handleBookStatus(w http.ResponseWriter, r *http.Request, bookID string) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, err := jobs.UserIDFromRequest(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := loadOwnedBook(w, r, userID, bookID)
	if record == nil {
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// --- Purchase ---

type purchaseRequest struct {
	UserID string `json:"userId"`
}

// POST /api/books/{id}/purchase
//
// Records payment for a draft and dispatches full generation. The draft is
// moved to purchased under a conditional write, so a double-submitted
// purchase can only charge and generate once.
func handlePurchase(w http.ResponseWriter, r *http.Request, bookID string) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := jobs.ValidateUserID(req.UserID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := bookStore.GetBook(r.Context(), req.UserID, bookID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load book", err.Error())
		return
	}
	if record == nil {
		httpError(w, http.StatusNotFound, "book not found")
		return
	}

	if err := bookStore.TransitionStatus(r.Context(), req.UserID, bookID, store.StatusPurchased, store.StatusDraft); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			httpError(w, http.StatusConflict, "book is not an unpaid draft")
			return
		}
		httpError(w, http.StatusInternalServerError, "failed to record purchase", err.Error())
		return
	}

	orderID := jobs.GenerateID("order-")
	order := &store.Order{
		ID:          orderID,
		BookID:      bookID,
		Status:      "paid",
		AmountCents: fullBookPriceCents,
	}
	if err := bookStore.PutOrder(r.Context(), req.UserID, order); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to record order", err.Error())
		return
	}

	if err := invokeWorkerAsync(r.Context(), map[string]interface{}{
		"type":    "generate",
		"userId":  req.UserID,
		"draftId": bookID,
		"orderId": orderID,
		"input":   record.Input,
	}); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to start generation")
		return
	}

	log.Info().
		Str("userId", req.UserID).
		Str("bookId", bookID).
		Str("orderId", orderID).
		Msg("Purchase recorded, full generation dispatched")
	respondJSON(w, http.StatusAccepted, map[string]string{
		"bookId":  bookID,
		"orderId": orderID,
		"status":  store.StatusPurchased,
	})
}

// --- Retry and revision ---

type retryRequest struct {
	UserID string `json:"userId"`
}

// POST /api/books/{id}/retry
//
// Reruns a failed generation under the same book ID. The precondition is
// checked here for a fast 409, and again by the worker's conditional
// status transition, which is what actually guards the record.
func handleRetryBook(w http.ResponseWriter, r *http.Request, bookID string) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := jobs.ValidateUserID(req.UserID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := loadOwnedBook(w, r, req.UserID, bookID)
	if record == nil {
		return
	}
	if record.Status != store.StatusFailed {
		httpError(w, http.StatusConflict, "only failed books can be retried")
		return
	}

	if err := invokeWorkerAsync(r.Context(), map[string]interface{}{
		"type":   "retry",
		"userId": req.UserID,
		"bookId": bookID,
	}); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to start retry")
		return
	}

	log.Info().Str("userId", req.UserID).Str("bookId", bookID).Msg("Retry dispatched")
	respondJSON(w, http.StatusAccepted, map[string]string{"bookId": bookID})
}

type reviseRequest struct {
	UserID        string `json:"userId"`
	RevisedPrompt string `json:"revisedPrompt"`
}

// POST /api/books/{id}/revise
//
// Regenerates a completed book with an amended prompt. Each purchased book
// gets one free revision; the counter lives on the record and is also
// enforced by the worker.
func handleReviseBook(w http.ResponseWriter, r *http.Request, bookID string) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req reviseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := jobs.ValidateUserID(req.UserID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := loadOwnedBook(w, r, req.UserID, bookID)
	if record == nil {
		return
	}
	if record.Status != store.StatusCompleted {
		httpError(w, http.StatusConflict, "only completed books can be revised")
		return
	}
	if record.Revisions >= pipeline.MaxRevisions {
		httpError(w, http.StatusForbidden, "free revision already used")
		return
	}

	if err := invokeWorkerAsync(r.Context(), map[string]interface{}{
		"type":          "revise",
		"userId":        req.UserID,
		"bookId":        bookID,
		"revisedPrompt": req.RevisedPrompt,
	}); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to start revision")
		return
	}

	log.Info().Str("userId", req.UserID).Str("bookId", bookID).Msg("Revision dispatched")
	respondJSON(w, http.StatusAccepted, map[string]string{"bookId": bookID})
}

// --- Export ---

type exportRequest struct {
	UserID string `json:"userId"`
}

// POST /api/books/{id}/export
//
// Starts a print-ready ZIP export of a completed book. Returns a job ID the
// browser polls via export-status until the download URL is ready.
func handleExportStart(w http.ResponseWriter, r *http.Request, bookID string) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := jobs.ValidateUserID(req.UserID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := loadOwnedBook(w, r, req.UserID, bookID)
	if record == nil {
		return
	}
	if record.Status != store.StatusCompleted {
		httpError(w, http.StatusConflict, "only completed books can be exported")
		return
	}
	if !record.Story.IsUnlocked {
		httpError(w, http.StatusForbidden, "purchase the full book to export it")
		return
	}

	jobID := jobs.GenerateID("export-")
	if err := bookStore.PutExportJob(r.Context(), req.UserID, &store.ExportJob{
		ID: jobID, BookID: bookID, Status: "pending",
	}); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to create export job", err.Error())
		return
	}

	if err := invokeWorkerAsync(r.Context(), map[string]interface{}{
		"type":   "export",
		"userId": req.UserID,
		"bookId": bookID,
		"jobId":  jobID,
	}); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to start export")
		return
	}

	log.Info().Str("userId", req.UserID).Str("bookId", bookID).Str("jobId", jobID).Msg("Export dispatched")
	respondJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

// GET /api/books/{id}/export-status?userId=...&jobId=...
func handleExportStatus(w http.ResponseWriter, r *http.Request, bookID string) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID, err := jobs.UserIDFromRequest(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		httpError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	job, err := bookStore.GetExportJob(r.Context(), userID, jobID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load export job", err.Error())
		return
	}
	if job == nil || job.BookID != bookID {
		httpError(w, http.StatusNotFound, "export job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// --- Deletion ---

// DELETE /api/books/{id}?userId=...
//
// Removes the record and its artwork. Asset deletion is best-effort; the
// S3 lifecycle policy sweeps anything a failed delete leaves behind.
func handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	bookID := strings.TrimPrefix(r.URL.Path, "/api/books/")
	if err := jobs.ValidateBookID(bookID); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := jobs.UserIDFromRequest(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := loadOwnedBook(w, r, userID, bookID)
	if record == nil {
		return
	}
	if record.Status == store.StatusGenerating {
		httpError(w, http.StatusConflict, "book is generating; wait for it to finish")
		return
	}

	if err := bookStore.DeleteBook(r.Context(), userID, bookID); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to delete book", err.Error())
		return
	}
	if err := assetStore.DeleteBookAssets(r.Context(), bookID, len(record.Story.Pages)); err != nil {
		log.Warn().Err(err).Str("bookId", bookID).Msg("Failed to delete book assets")
	}

	log.Info().Str("userId", userID).Str("bookId", bookID).Msg("Book deleted")
	respondJSON(w, http.StatusOK, map[string]string{"deleted": bookID})
}
