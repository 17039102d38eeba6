package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix  = "USER#"
	skProfile = "PROFILE"
	skBook    = "BOOK#"
	skOrder   = "ORDER#"
	skExport  = "EXPORT#"
)

// DynamoStore implements BookStore using AWS DynamoDB.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// Compile-time interface check.
var _ BookStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// --- Internal helpers ---

// userPK returns the partition key for a user.
func userPK(userID string) string {
	return pkPrefix + userID
}

// putItem marshals a domain object and writes it to DynamoDB with PK and SK.
// The domain object should use dynamodbav:"-" for fields derived from PK/SK.
// A non-zero ttl adds an expiresAt attribute for DynamoDB auto-deletion.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}, ttl time.Duration) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	// Add key attributes (overwrite any conflicting keys from the data).
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	if ttl > 0 {
		item["expiresAt"] = &types.AttributeValueMemberN{
			Value: strconv.FormatInt(time.Now().Add(ttl).Unix(), 10),
		}
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item from DynamoDB and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// deleteItem removes a single item from DynamoDB by PK/SK.
func (s *DynamoStore) deleteItem(ctx context.Context, pk, sk string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return fmt.Errorf("DeleteItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// queryBySKPrefix queries all items for a user where SK begins with the given
// prefix. Returns raw DynamoDB items for flexible processing by the caller.
func (s *DynamoStore) queryBySKPrefix(ctx context.Context, userID, skPrefix string) ([]map[string]types.AttributeValue, error) {
	pk := userPK(userID)

	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
	}

	var allItems []map[string]types.AttributeValue

	// Handle pagination — DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s SK prefix=%s: %w", pk, skPrefix, err)
		}
		allItems = append(allItems, result.Items...)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return allItems, nil
}

// --- Book operations ---

func (s *DynamoStore) PutBook(ctx context.Context, userID string, book *BookRecord) error {
	now := time.Now().Unix()
	if book.CreatedAt == 0 {
		book.CreatedAt = now
	}
	book.UpdatedAt = now

	if err := s.putItem(ctx, userPK(userID), skBook+book.ID, book, 0); err != nil {
		return fmt.Errorf("put book %s/%s: %w", userID, book.ID, err)
	}

	log.Debug().
		Str("userId", userID).
		Str("bookId", book.ID).
		Str("status", book.Status).
		Int("pages", len(book.Story.Pages)).
		Msg("Book persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) GetBook(ctx context.Context, userID, bookID string) (*BookRecord, error) {
	var book BookRecord
	found, err := s.getItem(ctx, userPK(userID), skBook+bookID, &book)
	if err != nil {
		return nil, fmt.Errorf("get book %s/%s: %w", userID, bookID, err)
	}
	if !found {
		return nil, nil
	}

	book.ID = bookID
	book.UserID = userID
	return &book, nil
}

func (s *DynamoStore) ListBooks(ctx context.Context, userID string) ([]*BookRecord, error) {
	items, err := s.queryBySKPrefix(ctx, userID, skBook)
	if err != nil {
		return nil, fmt.Errorf("list books for %s: %w", userID, err)
	}

	books := make([]*BookRecord, 0, len(items))
	for _, item := range items {
		var book BookRecord
		if err := attributevalue.UnmarshalMap(item, &book); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("Failed to unmarshal book, skipping")
			continue
		}

		// Extract book ID from SK: "BOOK#abc-123" -> "abc-123"
		if skAttr, ok := item["SK"].(*types.AttributeValueMemberS); ok {
			book.ID = strings.TrimPrefix(skAttr.Value, skBook)
		}
		book.UserID = userID

		books = append(books, &book)
	}

	return books, nil
}

func (s *DynamoStore) DeleteBook(ctx context.Context, userID, bookID string) error {
	if err := s.deleteItem(ctx, userPK(userID), skBook+bookID); err != nil {
		return fmt.Errorf("delete book %s/%s: %w", userID, bookID, err)
	}

	log.Debug().Str("userId", userID).Str("bookId", bookID).Msg("Book deleted")
	return nil
}

func (s *DynamoStore) TransitionStatus(ctx context.Context, userID, bookID, to string, allowedFrom ...string) error {
	if len(allowedFrom) == 0 {
		return fmt.Errorf("transition to %s: no allowed prior statuses given", to)
	}

	// Build an IN condition over the allowed prior statuses.
	values := map[string]types.AttributeValue{
		":to":  &types.AttributeValueMemberS{Value: to},
		":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
	}
	placeholders := make([]string, len(allowedFrom))
	for i, from := range allowedFrom {
		p := fmt.Sprintf(":f%d", i)
		placeholders[i] = p
		values[p] = &types.AttributeValueMemberS{Value: from}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skBook + bookID},
		},
		UpdateExpression:    aws.String("SET #s = :to, updatedAt = :now"),
		ConditionExpression: aws.String("#s IN (" + strings.Join(placeholders, ", ") + ")"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status", // "status" is a DynamoDB reserved word
		},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return fmt.Errorf("transition book %s/%s to %s (allowed from %v): %w",
				userID, bookID, to, allowedFrom, ErrStatusConflict)
		}
		return fmt.Errorf("transition book %s/%s to %s: %w", userID, bookID, to, err)
	}

	log.Debug().
		Str("userId", userID).
		Str("bookId", bookID).
		Str("status", to).
		Msg("Book status transitioned")
	return nil
}

func (s *DynamoStore) UpdateProgress(ctx context.Context, userID, bookID string, p Progress) error {
	progress, err := attributevalue.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skBook + bookID},
		},
		UpdateExpression: aws.String("SET progress = :p, updatedAt = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":   progress,
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("update progress %s/%s: %w", userID, bookID, err)
	}

	log.Trace().
		Str("bookId", bookID).
		Str("step", p.CurrentStep).
		Int("percent", p.ProgressPercent).
		Msg("Book progress updated")
	return nil
}

func (s *DynamoStore) MarkFailed(ctx context.Context, userID, bookID, errMsg string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skBook + bookID},
		},
		UpdateExpression: aws.String("SET #s = :s, #e = :e, updatedAt = :now"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
			"#e": "error", // "error" is also reserved
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":   &types.AttributeValueMemberS{Value: StatusFailed},
			":e":   &types.AttributeValueMemberS{Value: errMsg},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("mark book %s/%s failed: %w", userID, bookID, err)
	}

	log.Debug().Str("userId", userID).Str("bookId", bookID).Msg("Book marked failed")
	return nil
}

func (s *DynamoStore) LinkOrder(ctx context.Context, userID, bookID, orderID string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skBook + bookID},
		},
		UpdateExpression: aws.String("SET orderId = :o, updatedAt = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o":   &types.AttributeValueMemberS{Value: orderID},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("link order %s to book %s/%s: %w", orderID, userID, bookID, err)
	}

	log.Debug().Str("bookId", bookID).Str("orderId", orderID).Msg("Order linked to book")
	return nil
}

// --- Order operations ---

func (s *DynamoStore) PutOrder(ctx context.Context, userID string, order *Order) error {
	if order.CreatedAt == 0 {
		order.CreatedAt = time.Now().Unix()
	}

	if err := s.putItem(ctx, userPK(userID), skOrder+order.ID, order, 0); err != nil {
		return fmt.Errorf("put order %s/%s: %w", userID, order.ID, err)
	}

	log.Debug().
		Str("userId", userID).
		Str("orderId", order.ID).
		Str("bookId", order.BookID).
		Msg("Order persisted")
	return nil
}

func (s *DynamoStore) GetOrder(ctx context.Context, userID, orderID string) (*Order, error) {
	var order Order
	found, err := s.getItem(ctx, userPK(userID), skOrder+orderID, &order)
	if err != nil {
		return nil, fmt.Errorf("get order %s/%s: %w", userID, orderID, err)
	}
	if !found {
		return nil, nil
	}

	order.ID = orderID
	order.UserID = userID
	return &order, nil
}

// --- Profile operations ---

func (s *DynamoStore) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var profile UserProfile
	found, err := s.getItem(ctx, userPK(userID), skProfile, &profile)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	if !found {
		return nil, nil
	}

	profile.UserID = userID
	return &profile, nil
}

func (s *DynamoStore) PutProfile(ctx context.Context, userID string, profile *UserProfile) error {
	if profile.CreatedAt == 0 {
		profile.CreatedAt = time.Now().Unix()
	}

	if err := s.putItem(ctx, userPK(userID), skProfile, profile, 0); err != nil {
		return fmt.Errorf("put profile %s: %w", userID, err)
	}
	return nil
}

func (s *DynamoStore) IncrementSamplesUsed(ctx context.Context, userID string) (int, error) {
	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		UpdateExpression: aws.String("ADD samplesUsed :one SET createdAt = if_not_exists(createdAt, :now)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment samples used for %s: %w", userID, err)
	}

	used := 0
	if attr, ok := result.Attributes["samplesUsed"].(*types.AttributeValueMemberN); ok {
		used, err = strconv.Atoi(attr.Value)
		if err != nil {
			return 0, fmt.Errorf("parse samplesUsed %q: %w", attr.Value, err)
		}
	}

	log.Debug().Str("userId", userID).Int("samplesUsed", used).Msg("Sample counter incremented")
	return used, nil
}

// --- Export job operations ---

func (s *DynamoStore) PutExportJob(ctx context.Context, userID string, job *ExportJob) error {
	if err := s.putItem(ctx, userPK(userID), skExport+job.ID, job, ExportTTL); err != nil {
		return fmt.Errorf("put export job %s/%s: %w", userID, job.ID, err)
	}

	log.Debug().
		Str("userId", userID).
		Str("jobId", job.ID).
		Str("status", job.Status).
		Msg("Export job persisted")
	return nil
}

func (s *DynamoStore) GetExportJob(ctx context.Context, userID, jobID string) (*ExportJob, error) {
	var job ExportJob
	found, err := s.getItem(ctx, userPK(userID), skExport+jobID, &job)
	if err != nil {
		return nil, fmt.Errorf("get export job %s/%s: %w", userID, jobID, err)
	}
	if !found {
		return nil, nil
	}

	job.ID = jobID
	job.UserID = userID
	return &job, nil
}
