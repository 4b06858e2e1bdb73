// Package dynamohot implements the Hot tier on a DynamoDB table with
// deviceId as partition key and timestamp as sort key. PutItem is an
// upsert on the full key, so duplicate delivery leaves the table
// unchanged.
package dynamohot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/c360/cloudrelay/errors"
	"github.com/c360/cloudrelay/pkg/timestamp"
	"github.com/c360/cloudrelay/store"
	"github.com/c360/cloudrelay/telemetry"
)

const (
	batchLimit        = 25 // BatchWriteItem hard limit
	unprocessedRounds = 3  // extra rounds for unprocessed items
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Store is a HotStore backed by a DynamoDB table.
type Store struct {
	client    API
	tableName string
	logger    *slog.Logger
}

var _ store.HotStore = (*Store)(nil)

// New creates a hot store over a DynamoDB client and table.
func New(client API, tableName string, logger *slog.Logger) (*Store, error) {
	if tableName == "" {
		return nil, errors.WrapConfig(errors.ErrMissingConfig, "dynamohot", "New", "table name")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, tableName: tableName, logger: logger}, nil
}

// record is the table shape. Timestamps are RFC3339 UTC strings so the
// sort key orders lexically by time; properties travel as a JSON blob.
type record struct {
	DeviceID   string `dynamodbav:"deviceId"`
	Timestamp  string `dynamodbav:"timestamp"`
	Properties string `dynamodbav:"properties"`
}

func toRecord(item telemetry.Item) (record, error) {
	props, err := json.Marshal(item.Properties)
	if err != nil {
		return record{}, errors.WrapInvalid(err, "dynamohot", "toRecord", "marshal properties")
	}
	return record{DeviceID: item.DeviceID, Timestamp: item.Timestamp, Properties: string(props)}, nil
}

func (r record) toItem() (telemetry.Item, error) {
	item := telemetry.Item{DeviceID: r.DeviceID, Timestamp: r.Timestamp}
	if r.Properties != "" {
		if err := json.Unmarshal([]byte(r.Properties), &item.Properties); err != nil {
			return telemetry.Item{}, errors.WrapInvalid(err, "dynamohot", "toItem", "unmarshal properties")
		}
	}
	return item, nil
}

// Upsert implements store.HotStore.
func (s *Store) Upsert(ctx context.Context, item telemetry.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	rec, err := toRecord(item)
	if err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return errors.WrapInvalid(err, "dynamohot", "Upsert", "marshal record")
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return errors.WrapTransient(err, "dynamohot", "Upsert", "put item")
	}
	return nil
}

// UpsertBatch implements store.HotStore. Items go out in BatchWriteItem
// chunks of 25 with unprocessed-item retry.
func (s *Store) UpsertBatch(ctx context.Context, items []telemetry.Item) error {
	if len(items) == 0 {
		return nil
	}
	var requests []types.WriteRequest
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return err
		}
		rec, err := toRecord(item)
		if err != nil {
			return err
		}
		av, err := attributevalue.MarshalMap(rec)
		if err != nil {
			return errors.WrapInvalid(err, "dynamohot", "UpsertBatch", "marshal record")
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: av},
		})
	}
	return s.writeBatches(ctx, requests)
}

// QueryRange implements store.HotStore. The sort key is an RFC3339
// string, so a BETWEEN on the formatted bounds is a time-range query.
func (s *Store) QueryRange(ctx context.Context, deviceID string, startMs, endMs int64) ([]telemetry.Item, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("deviceId = :d AND #ts BETWEEN :start AND :end"),
		ExpressionAttributeNames: map[string]string{
			"#ts": "timestamp",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d":     &types.AttributeValueMemberS{Value: deviceID},
			":start": &types.AttributeValueMemberS{Value: timestamp.Format(startMs)},
			":end":   &types.AttributeValueMemberS{Value: timestamp.Format(endMs)},
		},
	}

	var out []telemetry.Item
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, errors.WrapTransient(err, "dynamohot", "QueryRange", "query")
		}
		items, err := unmarshalRecords(result.Items)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if result.LastEvaluatedKey == nil {
			return out, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// Latest implements store.HotStore. Descending scan order with a limit
// of one returns the newest sort key for the device.
func (s *Store) Latest(ctx context.Context, deviceID string) (telemetry.Item, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("deviceId = :d"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d": &types.AttributeValueMemberS{Value: deviceID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return telemetry.Item{}, errors.WrapTransient(err, "dynamohot", "Latest", "query")
	}
	if len(result.Items) == 0 {
		return telemetry.Item{}, errors.Wrap(errors.ErrKeyNotFound, "dynamohot", "Latest", deviceID)
	}
	items, err := unmarshalRecords(result.Items)
	if err != nil {
		return telemetry.Item{}, err
	}
	return items[0], nil
}

// ListOlderThan implements store.HotStore. Scan pages map directly to
// result pages; the page token carries the LastEvaluatedKey.
func (s *Store) ListOlderThan(ctx context.Context, cutoffMs int64, pageToken string, limit int) (store.Page, error) {
	if limit <= 0 {
		limit = 1000
	}
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("#ts < :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#ts": "timestamp",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": &types.AttributeValueMemberS{Value: timestamp.Format(cutoffMs)},
		},
		Limit: aws.Int32(int32(limit)),
	}
	if pageToken != "" {
		start, err := decodePageToken(pageToken)
		if err != nil {
			return store.Page{}, err
		}
		input.ExclusiveStartKey = start
	}

	result, err := s.client.Scan(ctx, input)
	if err != nil {
		return store.Page{}, errors.WrapTransient(err, "dynamohot", "ListOlderThan", "scan")
	}
	items, err := unmarshalRecords(result.Items)
	if err != nil {
		return store.Page{}, err
	}
	// Scan order is arbitrary; order each page so downstream chunking
	// sees device runs.
	sort.Slice(items, func(i, j int) bool {
		if items[i].DeviceID != items[j].DeviceID {
			return items[i].DeviceID < items[j].DeviceID
		}
		return items[i].Timestamp < items[j].Timestamp
	})
	page := store.Page{Items: items}
	if result.LastEvaluatedKey != nil {
		page.NextToken, err = encodePageToken(result.LastEvaluatedKey)
		if err != nil {
			return store.Page{}, err
		}
	}
	return page, nil
}

// DeleteBatch implements store.HotStore. DeleteItem on an absent key is
// a no-op in DynamoDB, so re-deletion after a partial failure is safe.
func (s *Store) DeleteBatch(ctx context.Context, keys []store.ItemKey) error {
	if len(keys) == 0 {
		return nil
	}
	var requests []types.WriteRequest
	for _, k := range keys {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{
				Key: map[string]types.AttributeValue{
					"deviceId":  &types.AttributeValueMemberS{Value: k.DeviceID},
					"timestamp": &types.AttributeValueMemberS{Value: k.Timestamp},
				},
			},
		})
	}
	return s.writeBatches(ctx, requests)
}

func (s *Store) writeBatches(ctx context.Context, requests []types.WriteRequest) error {
	for i := 0; i < len(requests); i += batchLimit {
		end := min(i+batchLimit, len(requests))
		if err := s.writeBatchWithRetry(ctx, requests[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// writeBatchWithRetry writes one chunk and retries unprocessed items
// with exponential backoff.
func (s *Store) writeBatchWithRetry(ctx context.Context, requests []types.WriteRequest) error {
	pending := requests

	for attempt := 0; attempt <= unprocessedRounds; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		output, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				s.tableName: pending,
			},
		})
		if err != nil {
			return errors.WrapTransient(err, "dynamohot", "writeBatchWithRetry", "batch write")
		}

		pending = output.UnprocessedItems[s.tableName]
		if len(pending) == 0 {
			return nil
		}
		s.logger.Warn("batch write left unprocessed items",
			"table", s.tableName,
			"remaining", len(pending),
			"attempt", attempt+1)
	}

	return errors.WrapTransient(errors.ErrStoreUnavailable, "dynamohot", "writeBatchWithRetry", "unprocessed items remain")
}

func unmarshalRecords(avs []map[string]types.AttributeValue) ([]telemetry.Item, error) {
	var recs []record
	if err := attributevalue.UnmarshalListOfMaps(avs, &recs); err != nil {
		return nil, errors.WrapInvalid(err, "dynamohot", "unmarshalRecords", "unmarshal records")
	}
	items := make([]telemetry.Item, 0, len(recs))
	for _, r := range recs {
		item, err := r.toItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func encodePageToken(key map[string]types.AttributeValue) (string, error) {
	var rec record
	if err := attributevalue.UnmarshalMap(key, &rec); err != nil {
		return "", errors.WrapInvalid(err, "dynamohot", "encodePageToken", "unmarshal key")
	}
	raw, err := json.Marshal(store.ItemKey{DeviceID: rec.DeviceID, Timestamp: rec.Timestamp})
	if err != nil {
		return "", errors.WrapInvalid(err, "dynamohot", "encodePageToken", "marshal key")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodePageToken(token string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidQuery, "dynamohot", "decodePageToken", "bad page token")
	}
	var key store.ItemKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidQuery, "dynamohot", "decodePageToken", "bad page token")
	}
	return map[string]types.AttributeValue{
		"deviceId":  &types.AttributeValueMemberS{Value: key.DeviceID},
		"timestamp": &types.AttributeValueMemberS{Value: key.Timestamp},
	}, nil
}
