// Package main provides the API Lambda entry point for the storybook API.
//
// The API Lambda validates browser requests, persists book records to
// DynamoDB, and invokes the Worker Lambda asynchronously for the long
// generation and export jobs. The browser polls book status through this
// Lambda while the worker runs.
//
// Security:
//   - Origin-verify middleware blocks direct API Gateway access (CloudFront-only)
//   - Input validation on userId and bookId (UUID format)
//   - Cryptographically random order/export job IDs prevent enumeration
//   - Record ownership enforced by partition key: every read and write is
//     scoped to the caller's userId
//
// Endpoints:
//
//	GET    /api/health                    — health check (no auth required)
//	POST   /api/books/sample              — create and generate a free 5-page sample
//	POST   /api/books/draft               — create a pre-payment draft for a full book
//	GET    /api/books                     — list the caller's library
//	GET    /api/books/{id}/status         — poll generation progress and status
//	POST   /api/books/{id}/purchase       — record payment and start full generation
//	POST   /api/books/{id}/retry          — rerun a failed generation
//	POST   /api/books/{id}/revise         — regenerate a completed book (one free revision)
//	POST   /api/books/{id}/export         — start a print-ready ZIP export
//	GET    /api/books/{id}/export-status  — poll export job status and download URL
//	DELETE /api/books/{id}                — delete a book and its artwork
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-storybook-studio/internal/logging"
	"github.com/fpang/ai-storybook-studio/internal/storage"
	"github.com/fpang/ai-storybook-studio/internal/store"
)

// AWS clients initialized at cold start.
var (
	bookStore          *store.DynamoStore
	assetStore         *storage.S3AssetStore
	lambdaClient       *lambdasvc.Client
	workerLambdaArn    string
	originVerifySecret string
)

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}

	tableName := os.Getenv("BOOKS_TABLE_NAME")
	if tableName == "" {
		log.Fatal().Msg("BOOKS_TABLE_NAME environment variable is required")
	}
	bookStore = store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)

	assetBucket := os.Getenv("ASSET_BUCKET_NAME")
	if assetBucket == "" {
		log.Fatal().Msg("ASSET_BUCKET_NAME environment variable is required")
	}
	assetStore = storage.NewS3AssetStore(s3.NewFromConfig(cfg), assetBucket, os.Getenv("ASSET_PUBLIC_BASE_URL"))

	lambdaClient = lambdasvc.NewFromConfig(cfg)
	workerLambdaArn = os.Getenv("WORKER_LAMBDA_ARN")
	if workerLambdaArn == "" {
		log.Warn().Msg("WORKER_LAMBDA_ARN not set — generation dispatch disabled")
	}

	originVerifySecret = os.Getenv("ORIGIN_VERIFY_SECRET")
	if originVerifySecret == "" {
		log.Warn().Msg("ORIGIN_VERIFY_SECRET not set — origin verification disabled")
	}

	logging.NewStartupLogger("book-lambda").
		S3Bucket("assets", assetBucket).
		DynamoTable("books", tableName).
		LambdaFunc("worker", workerLambdaArn).
		Feature("originVerify", originVerifySecret != "").
		InitDuration(time.Since(initStart)).
		Log()
}

// withOriginVerify is middleware that rejects requests lacking the correct
// x-origin-verify header. CloudFront injects this header via a custom origin
// header, so direct API Gateway access is blocked.
func withOriginVerify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if originVerifySecret == "" {
			// Secret not configured — allow through (dev/initial deploy)
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("x-origin-verify") != originVerifySecret {
			log.Warn().Str("path", r.URL.Path).Msg("Blocked request: missing or invalid x-origin-verify header")
			httpError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", handleHealth)
	mux.HandleFunc("/api/books/sample", handleCreateSample)
	mux.HandleFunc("/api/books/draft", handleCreateDraft)
	mux.HandleFunc("/api/books", handleLibrary)
	mux.HandleFunc("/api/books/", handleBookRoutes)

	handler := withOriginVerify(mux)

	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "ai-storybook-studio",
	})
}
