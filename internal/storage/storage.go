// Package storage persists generated book artwork to S3 and hands out the
// durable URLs that get written into book records. Image bytes never live in
// DynamoDB; records only carry S3 URLs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// PresignExpiry is how long presigned asset URLs stay valid. S3 caps
// presigned URLs at 7 days.
const PresignExpiry = 7 * 24 * time.Hour

// S3AssetStore uploads book artwork to a single S3 bucket.
type S3AssetStore struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string

	// publicBaseURL, when set, is the CDN or website endpoint fronting the
	// bucket. Asset URLs become {publicBaseURL}/{key} instead of presigned
	// URLs, so they never expire.
	publicBaseURL string
}

// NewS3AssetStore creates an asset store for the given bucket.
// publicBaseURL may be empty, in which case URLs are presigned.
func NewS3AssetStore(client *s3.Client, bucket, publicBaseURL string) *S3AssetStore {
	return &S3AssetStore{
		client:        client,
		presigner:     s3.NewPresignClient(client),
		bucket:        bucket,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
	}
}

// PageKey returns the S3 key for a page illustration (0-based index).
func PageKey(bookID string, pageIndex int) string {
	return fmt.Sprintf("books/%s/page-%02d.png", bookID, pageIndex+1)
}

// CoverKey returns the S3 key for the book cover.
func CoverKey(bookID string) string {
	return fmt.Sprintf("books/%s/cover.png", bookID)
}

// CoverThumbKey returns the S3 key for the cover thumbnail shown in the
// library grid.
func CoverThumbKey(bookID string) string {
	return fmt.Sprintf("books/%s/cover-thumb.webp", bookID)
}

// ExportKey returns the S3 key for a print-ready export bundle.
func ExportKey(bookID, jobID string) string {
	return fmt.Sprintf("exports/%s/%s.zip", bookID, jobID)
}

// UploadPageImage stores one page illustration and returns its durable URL.
func (s *S3AssetStore) UploadPageImage(ctx context.Context, bookID string, pageIndex int, data []byte, mimeType string) (string, error) {
	return s.upload(ctx, PageKey(bookID, pageIndex), data, mimeType)
}

// UploadCoverImage stores the cover illustration and returns its durable URL.
// A downsized thumbnail is stored alongside it for the library grid; thumbnail
// failures are logged and swallowed, the full cover always wins.
func (s *S3AssetStore) UploadCoverImage(ctx context.Context, bookID string, data []byte, mimeType string) (string, error) {
	url, err := s.upload(ctx, CoverKey(bookID), data, mimeType)
	if err != nil {
		return "", err
	}

	if thumb, thumbMIME, thumbErr := Thumbnail(data, DefaultThumbnailMaxDimension); thumbErr != nil {
		log.Warn().Err(thumbErr).Str("bookId", bookID).Msg("Failed to generate cover thumbnail")
	} else if _, thumbErr := s.upload(ctx, CoverThumbKey(bookID), thumb, thumbMIME); thumbErr != nil {
		log.Warn().Err(thumbErr).Str("bookId", bookID).Msg("Failed to upload cover thumbnail")
	}

	return url, nil
}

// upload writes the object and resolves its URL.
func (s *S3AssetStore) upload(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}

	log.Debug().
		Str("bucket", s.bucket).
		Str("key", key).
		Int("bytes", len(data)).
		Msg("Uploading asset to S3")

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("PutObject %s: %w", key, err)
	}

	url, err := s.URLFor(ctx, key)
	if err != nil {
		return "", err
	}

	log.Info().Str("key", key).Int("bytes", len(data)).Msg("Asset uploaded to S3")
	return url, nil
}

// URLFor resolves the URL for an existing object: a public URL when the
// store fronts a CDN, a presigned GET URL otherwise.
func (s *S3AssetStore) URLFor(ctx context.Context, key string) (string, error) {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key, nil
	}

	result, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = PresignExpiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject %s: %w", key, err)
	}
	return result.URL, nil
}

// Download fetches an object's bytes, used when bundling export ZIPs.
func (s *S3AssetStore) Download(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket, Key: &key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// UploadExportBundle stores a ZIP bundle and returns its key. Export URLs are
// always presigned with a short expiry regardless of publicBaseURL, since
// bundles are one-time downloads.
func (s *S3AssetStore) UploadExportBundle(ctx context.Context, key string, data []byte) (string, error) {
	contentType := "application/zip"
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("PutObject %s: %w", key, err)
	}

	result, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = 24 * time.Hour
	})
	if err != nil {
		return "", fmt.Errorf("presign export %s: %w", key, err)
	}

	log.Info().Str("key", key).Int("bytes", len(data)).Msg("Export bundle uploaded to S3")
	return result.URL, nil
}

// DeleteBookAssets removes all artwork for a book (pages, cover). Called when
// the user deletes a book from their library. pageCount bounds the page keys.
func (s *S3AssetStore) DeleteBookAssets(ctx context.Context, bookID string, pageCount int) error {
	keys := make([]string, 0, pageCount+2)
	for i := 0; i < pageCount; i++ {
		keys = append(keys, PageKey(bookID, i))
	}
	keys = append(keys, CoverKey(bookID), CoverThumbKey(bookID))

	for _, key := range keys {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &s.bucket, Key: &key,
		}); err != nil {
			return fmt.Errorf("DeleteObject %s: %w", key, err)
		}
	}

	log.Debug().Str("bookId", bookID).Int("objects", len(keys)).Msg("Book assets deleted from S3")
	return nil
}
