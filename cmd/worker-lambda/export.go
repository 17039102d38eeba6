package main

// export.go bundles a completed book's artwork into a zstd-compressed ZIP
// for print-ready download. The export job record carries the presigned
// download URL and expires via TTL alongside the S3 bundle.

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-storybook-studio/internal/metrics"
	"github.com/fpang/ai-storybook-studio/internal/storage"
	"github.com/fpang/ai-storybook-studio/internal/store"
)

func handleExport(ctx context.Context, event WorkerEvent) error {
	jobStart := time.Now()

	bookStore.PutExportJob(ctx, event.UserID, &store.ExportJob{
		ID: event.JobID, BookID: event.BookID, Status: "processing",
	})

	record, err := bookStore.GetBook(ctx, event.UserID, event.BookID)
	if err != nil {
		return setExportError(ctx, event, fmt.Sprintf("Failed to load book: %v", err))
	}
	if record == nil {
		return setExportError(ctx, event, "Book not found")
	}
	if record.Status != store.StatusCompleted {
		return setExportError(ctx, event, fmt.Sprintf("Book is %s; only completed books can be exported", record.Status))
	}

	zipData, fileCount, err := createExportZip(ctx, record)
	if err != nil {
		return setExportError(ctx, event, fmt.Sprintf("Failed to build export bundle: %v", err))
	}

	zipKey := storage.ExportKey(event.BookID, event.JobID)
	downloadURL, err := assetStore.UploadExportBundle(ctx, zipKey, zipData)
	if err != nil {
		return setExportError(ctx, event, fmt.Sprintf("Failed to upload export bundle: %v", err))
	}

	bookStore.PutExportJob(ctx, event.UserID, &store.ExportJob{
		ID: event.JobID, BookID: event.BookID, Status: "complete",
		ZipKey: zipKey, DownloadURL: downloadURL,
		FileCount: fileCount, ZipSize: int64(len(zipData)),
	})

	log.Info().
		Str("jobId", event.JobID).
		Str("bookId", event.BookID).
		Int("files", fileCount).
		Int("zipBytes", len(zipData)).
		Dur("duration", time.Since(jobStart)).
		Msg("Export complete")

	metrics.ForOperation("export").
		Duration("JobDurationMs", time.Since(jobStart)).
		Metric("ExportFiles", float64(fileCount), metrics.UnitCount).
		Metric("ExportZipBytes", float64(len(zipData)), metrics.UnitBytes).
		Count("JobSuccess").
		Property("jobId", event.JobID).
		Property("bookId", event.BookID).
		Flush()

	return nil
}

func setExportError(ctx context.Context, event WorkerEvent, msg string) error {
	log.Error().Str("jobId", event.JobID).Str("bookId", event.BookID).Str("error", msg).Msg("Export job failed")
	bookStore.PutExportJob(ctx, event.UserID, &store.ExportJob{
		ID: event.JobID, BookID: event.BookID, Status: "error", Error: msg,
	})
	return nil // Return nil — error is stored in DynamoDB, not propagated to Lambda retry
}

// createExportZip downloads the cover and every page image and writes them
// into a zstd-compressed ZIP. Missing assets fail the export; a print bundle
// with holes is worse than no bundle.
func createExportZip(ctx context.Context, record *store.BookRecord) ([]byte, int, error) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)
	fileCount := 0

	addEntry := func(key, name string) error {
		data, err := assetStore.Download(ctx, key)
		if err != nil {
			return fmt.Errorf("download %s: %w", key, err)
		}
		header := &zip.FileHeader{
			Name:   name,
			Method: zipMethodZstd,
		}
		header.SetModTime(time.Now())
		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create ZIP entry %s: %w", name, err)
		}
		if _, err := writer.Write(data); err != nil {
			return fmt.Errorf("write ZIP entry %s: %w", name, err)
		}
		fileCount++
		return nil
	}

	if record.Story.CoverImage != "" {
		if err := addEntry(storage.CoverKey(record.ID), "cover.png"); err != nil {
			return nil, 0, err
		}
	}
	for i := range record.Story.Pages {
		name := fmt.Sprintf("page-%02d.png", i+1)
		if err := addEntry(storage.PageKey(record.ID, i), name); err != nil {
			return nil, 0, err
		}
	}

	if err := zipWriter.Close(); err != nil {
		return nil, 0, fmt.Errorf("close ZIP writer: %w", err)
	}
	if fileCount == 0 {
		return nil, 0, fmt.Errorf("book has no artwork to export")
	}
	return buf.Bytes(), fileCount, nil
}
