// Package store provides persistent book state storage for the asynchronous
// generation pipeline. Book records survive Lambda container recycling,
// concurrent invocations, and deployments, so a browser can keep polling a
// book through a crash and the retry path can resume from a failed record.
//
// The package uses a single-table DynamoDB design where all records for a
// user share a partition key (USER#{userId}). Sort keys distinguish record
// types: PROFILE, BOOK#, ORDER#, and EXPORT#. Export bundles carry a TTL
// attribute (expiresAt) matching the S3 export lifecycle policy; books and
// orders are permanent.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fpang/ai-storybook-studio/internal/story"
)

// ExportTTL is the time-to-live for export job records. Matches the S3
// export bundle lifecycle policy (24 hours).
const ExportTTL = 24 * time.Hour

// Book lifecycle statuses. A book moves draft -> purchased -> generating ->
// completed, or ends in failed from generating. Sample books skip the
// purchase step and go straight to generating.
const (
	StatusDraft      = "draft"
	StatusPurchased  = "purchased"
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrStatusConflict is returned by TransitionStatus when the record's current
// status is not one of the allowed prior statuses. Callers treat this as a
// lost race with a concurrent transition, not as a storage failure.
var ErrStatusConflict = errors.New("book status conflict")

// BookStore defines the persistence interface for book generation state.
// Each method is safe for concurrent use. Implementations must handle
// context cancellation and propagate errors with sufficient detail for
// debugging.
//
// All Get methods return (nil, nil) when the requested record does not
// exist. All Put methods perform full-item replacement (upsert semantics).
type BookStore interface {
	// --- Book records ---

	// PutBook creates or replaces a book record.
	PutBook(ctx context.Context, userID string, book *BookRecord) error

	// GetBook retrieves a book record. Returns nil, nil if not found.
	GetBook(ctx context.Context, userID, bookID string) (*BookRecord, error)

	// ListBooks retrieves all book records for a user.
	ListBooks(ctx context.Context, userID string) ([]*BookRecord, error)

	// DeleteBook deletes a single book record.
	DeleteBook(ctx context.Context, userID, bookID string) error

	// TransitionStatus atomically moves a book to status only if its current
	// status is one of allowedFrom. Returns ErrStatusConflict when the
	// condition fails, so a stale worker can never regress a finished book.
	TransitionStatus(ctx context.Context, userID, bookID, to string, allowedFrom ...string) error

	// UpdateProgress updates the progress fields of a generating book
	// without overwriting the rest of the record.
	UpdateProgress(ctx context.Context, userID, bookID string, p Progress) error

	// MarkFailed moves a book to failed and records the failure message.
	MarkFailed(ctx context.Context, userID, bookID, errMsg string) error

	// LinkOrder stamps an order ID onto a completed book. Best-effort for
	// callers: a book that generated successfully is never failed because
	// the order link could not be written.
	LinkOrder(ctx context.Context, userID, bookID, orderID string) error

	// --- Orders ---

	// PutOrder creates or replaces an order record.
	PutOrder(ctx context.Context, userID string, order *Order) error

	// GetOrder retrieves an order. Returns nil, nil if not found.
	GetOrder(ctx context.Context, userID, orderID string) (*Order, error)

	// --- User profile ---

	// GetProfile retrieves the user's profile. Returns nil, nil if the user
	// has never generated anything.
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)

	// PutProfile creates or replaces the user's profile record.
	PutProfile(ctx context.Context, userID string, profile *UserProfile) error

	// IncrementSamplesUsed atomically bumps the sample counter and returns
	// the new value. Creates the profile record if absent.
	IncrementSamplesUsed(ctx context.Context, userID string) (int, error)

	// --- Export jobs ---

	// PutExportJob creates or replaces an export job record.
	PutExportJob(ctx context.Context, userID string, job *ExportJob) error

	// GetExportJob retrieves an export job. Returns nil, nil if not found.
	GetExportJob(ctx context.Context, userID, jobID string) (*ExportJob, error)
}

// --- Domain types ---
//
// Each type maps to a DynamoDB record. The ID and UserID fields are derived
// from PK/SK on read and excluded from DynamoDB attributes on write (via
// dynamodbav:"-"). All other fields are stored as DynamoDB attributes.

// Progress is the polled progress state of a generating book. It mirrors the
// step labels shown in the browser while generation runs.
type Progress struct {
	CurrentStep     string `json:"currentStep" dynamodbav:"currentStep"`
	ProgressPercent int    `json:"progressPercent" dynamodbav:"progressPercent"`
	TotalImages     int    `json:"totalImages" dynamodbav:"totalImages"`
	CompletedImages int    `json:"completedImages" dynamodbav:"completedImages"`
}

// BookRecord represents one book (DynamoDB SK = BOOK#{bookId}).
// The record carries everything needed to rebuild the reader view and to
// retry a failed generation: the original input, the generated story, and
// the progress fields the browser polls.
type BookRecord struct {
	ID     string `json:"id" dynamodbav:"-"`
	UserID string `json:"-" dynamodbav:"-"`

	Status string `json:"status" dynamodbav:"status"`

	// Input is the validated form input that seeded this book. Kept so the
	// retry path can rerun generation without re-collecting form state.
	Input story.UserInput `json:"input" dynamodbav:"input"`

	// Story is the generated output. Incomplete while generating; the pages
	// are filled in as the pipeline progresses.
	Story story.Story `json:"story" dynamodbav:"story"`

	Progress Progress `json:"progress" dynamodbav:"progress"`

	// OrderID links the book to the payment that unlocked it. Empty for
	// samples and for drafts awaiting payment.
	OrderID string `json:"orderId,omitempty" dynamodbav:"orderId,omitempty"`

	// Revisions counts how many free revisions have been consumed.
	Revisions int `json:"revisions" dynamodbav:"revisions"`

	Error string `json:"error,omitempty" dynamodbav:"error,omitempty"`

	// GenerationStartedAt and GenerationCompletedAt bracket the most recent
	// pipeline run. StartedAt is stamped when the record is claimed;
	// CompletedAt only when the run commits to completed, so a failed or
	// in-flight run leaves it zero.
	GenerationStartedAt   int64 `json:"generationStartedAt,omitempty" dynamodbav:"generationStartedAt,omitempty"`
	GenerationCompletedAt int64 `json:"generationCompletedAt,omitempty" dynamodbav:"generationCompletedAt,omitempty"`

	CreatedAt int64 `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt int64 `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Order represents a payment record (DynamoDB SK = ORDER#{orderId}).
type Order struct {
	ID     string `json:"id" dynamodbav:"-"`
	UserID string `json:"-" dynamodbav:"-"`

	BookID      string `json:"bookId" dynamodbav:"bookId"`
	Status      string `json:"status" dynamodbav:"status"`
	AmountCents int    `json:"amountCents" dynamodbav:"amountCents"`
	CreatedAt   int64  `json:"createdAt" dynamodbav:"createdAt"`
}

// UserProfile represents per-user quota state (DynamoDB SK = PROFILE).
type UserProfile struct {
	UserID string `json:"-" dynamodbav:"-"`

	// SamplesUsed counts free sample books generated by this user.
	SamplesUsed int `json:"samplesUsed" dynamodbav:"samplesUsed"`

	// RegenerationCredits is the number of paid regenerations remaining.
	RegenerationCredits int `json:"regenerationCredits" dynamodbav:"regenerationCredits"`

	CreatedAt int64 `json:"createdAt" dynamodbav:"createdAt"`
}

// ExportJob represents a print-ready ZIP bundle job
// (DynamoDB SK = EXPORT#{jobId}).
type ExportJob struct {
	ID     string `json:"id" dynamodbav:"-"`
	UserID string `json:"-" dynamodbav:"-"`

	BookID      string `json:"bookId" dynamodbav:"bookId"`
	Status      string `json:"status" dynamodbav:"status"`
	ZipKey      string `json:"zipKey,omitempty" dynamodbav:"zipKey,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty" dynamodbav:"downloadUrl,omitempty"`
	FileCount   int    `json:"fileCount" dynamodbav:"fileCount"`
	ZipSize     int64  `json:"zipSize,omitempty" dynamodbav:"zipSize,omitempty"`
	Error       string `json:"error,omitempty" dynamodbav:"error,omitempty"`
}
