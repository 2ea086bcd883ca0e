package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	dynamoKeyAttr     = "pk"
	dynamoValueAttr   = "value"
	dynamoExpiresAttr = "expires_at"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps entries as {pk, value, expires_at} items. expires_at is
// the table's TTL attribute; DynamoDB deletes lazily, so reads also check it.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("cache: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("cache: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, now: time.Now}, nil
}

func (s *DynamoStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			dynamoKeyAttr: &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("cache: dynamodb get %s: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrMiss
	}

	if exp, ok := out.Item[dynamoExpiresAttr].(*types.AttributeValueMemberN); ok {
		unix, err := strconv.ParseInt(exp.Value, 10, 64)
		if err == nil && unix > 0 && !s.now().Before(time.Unix(unix, 0)) {
			return nil, ErrMiss
		}
	}

	val, ok := out.Item[dynamoValueAttr].(*types.AttributeValueMemberB)
	if !ok {
		return nil, &DecodeError{Key: key, Err: errors.New("value attribute missing or not binary")}
	}
	return val.Value, nil
}

func (s *DynamoStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item := map[string]types.AttributeValue{
		dynamoKeyAttr:   &types.AttributeValueMemberS{Value: key},
		dynamoValueAttr: &types.AttributeValueMemberB{Value: value},
	}
	if ttl > 0 {
		// TTL granularity is one second; round up so short TTLs still expire after they should.
		exp := s.now().Add(ttl + time.Second - 1).Unix()
		item[dynamoExpiresAttr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(exp, 10)}
	}

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("cache: dynamodb put %s: %w", key, err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			dynamoKeyAttr: &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("cache: dynamodb delete %s: %w", key, err)
	}
	return nil
}
