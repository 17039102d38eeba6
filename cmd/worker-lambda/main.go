// Package main provides the Worker Lambda entry point for async book jobs.
//
// The Worker Lambda runs the long multi-stage generation pipeline: story
// structure, per-page illustration, cover art, and export bundling. It is
// invoked asynchronously by the API Lambda via lambda:Invoke with
// InvocationType=Event. Progress and results are written to DynamoDB;
// the browser polls the book record through the API Lambda.
//
// Event format:
//
//	{
//	  "type": "generate"|"retry"|"revise"|"export",
//	  "userId": "uuid",
//	  "bookId": "uuid",
//	  ...type-specific fields
//	}
package main

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-storybook-studio/internal/logging"
	"github.com/fpang/ai-storybook-studio/internal/storage"
	"github.com/fpang/ai-storybook-studio/internal/store"
	"github.com/fpang/ai-storybook-studio/internal/story"
)

var coldStart = true

// AWS clients initialized at cold start.
var (
	assetStore *storage.S3AssetStore
	bookStore  *store.DynamoStore
)

// WorkerEvent is the top-level event received from the API Lambda.
type WorkerEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	BookID string `json:"bookId,omitempty"`
	JobID  string `json:"jobId,omitempty"`

	// Generate-specific fields.
	Input   *story.UserInput `json:"input,omitempty"`
	DraftID string           `json:"draftId,omitempty"`
	OrderID string           `json:"orderId,omitempty"`

	// Revise-specific fields.
	RevisedPrompt string `json:"revisedPrompt,omitempty"`
}

// zipMethodZstd is the ZIP compression method ID for Zstandard.
const zipMethodZstd uint16 = 93

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")

	assetBucket := os.Getenv("ASSET_BUCKET_NAME")
	if assetBucket == "" {
		log.Fatal().Msg("ASSET_BUCKET_NAME environment variable is required")
	}
	s3Client := s3.NewFromConfig(cfg)
	assetStore = storage.NewS3AssetStore(s3Client, assetBucket, os.Getenv("ASSET_PUBLIC_BASE_URL"))

	tableName := os.Getenv("BOOKS_TABLE_NAME")
	if tableName == "" {
		log.Fatal().Msg("BOOKS_TABLE_NAME environment variable is required")
	}
	ddbClient := dynamodb.NewFromConfig(cfg)
	bookStore = store.NewDynamoStore(ddbClient, tableName)

	// Load Gemini API key from SSM Parameter Store.
	apiKeyParam := logging.EnvOrDefault("SSM_API_KEY_PARAM", "/ai-storybook/prod/gemini-api-key")
	if os.Getenv("GEMINI_API_KEY") == "" {
		paramName := apiKeyParam
		ssmClient := ssm.NewFromConfig(cfg)
		ssmStart := time.Now()
		result, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
			Name:           &paramName,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			log.Fatal().Err(err).Str("param", paramName).Msg("Failed to read API key from SSM")
		}
		os.Setenv("GEMINI_API_KEY", *result.Parameter.Value)
		log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Gemini API key loaded from SSM")
	}

	// Register Zstandard compressor for export ZIP bundles.
	zip.RegisterCompressor(zipMethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12)))
	})

	logging.NewStartupLogger("worker-lambda").
		S3Bucket("assets", assetBucket).
		DynamoTable("books", tableName).
		SSMParam("geminiApiKey", apiKeyParam).
		Config("region", cfg.Region).
		InitDuration(time.Since(initStart)).
		Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, event WorkerEvent) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "worker-lambda").Msg("Cold start — first invocation")
	}
	log.Info().
		Str("type", event.Type).
		Str("userId", event.UserID).
		Str("bookId", event.BookID).
		Str("jobId", event.JobID).
		Msg("Worker Lambda invoked")

	switch event.Type {
	case "generate":
		return handleGenerate(ctx, event)
	case "retry":
		return handleRetry(ctx, event)
	case "revise":
		return handleRevise(ctx, event)
	case "export":
		return handleExport(ctx, event)
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
}
