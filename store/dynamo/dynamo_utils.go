package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type itemKey = map[string]types.AttributeValue

func newDynamoDBClient(ctx context.Context, devMode bool, dynamodbEndpoint string) (*dynamodb.Client, error) {
	if devMode {
		// Dummy credentials and region for dynamodb-local
		cfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion("us-east-1"),
			config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("dummy", "dummy", ""),
			),
		)
		if err != nil {
			return nil, err
		}

		return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(dynamodbEndpoint)
		}), nil
	}

	// Production: default chain (task role, env, shared config)
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(cfg), nil
}

func getTables(client *dynamodb.Client, ctx context.Context) ([]string, error) {
	var tables []string
	paginator := dynamodb.NewListTablesPaginator(client, &dynamodb.ListTablesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		tables = append(tables, page.TableNames...)
	}
	return tables, nil
}

// ensureItem inserts item only if its PK+SK is free. It returns the stored
// item and whether this call created it.
func ensureItem[T any](dynamoStore *DynamoDoodleStore, ctx context.Context, item T) (T, bool, error) {
	var zero T

	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return zero, false, fmt.Errorf("marshal error: %w", err)
	}
	if _, ok := avMap["PK"]; !ok {
		return zero, false, errors.New("struct missing PK field")
	}
	if _, ok := avMap["SK"]; !ok {
		return zero, false, errors.New("struct missing SK field")
	}

	_, err = dynamoStore.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Item:                avMap,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return item, true, nil
	}

	var cce *types.ConditionalCheckFailedException
	if !errors.As(err, &cce) {
		return zero, false, fmt.Errorf("failed to put item: %w", err)
	}

	getResp, err := dynamoStore.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(dynamoStore.tableName),
		Key:       itemKey{"PK": avMap["PK"], "SK": avMap["SK"]},
	})
	if err != nil {
		return zero, false, fmt.Errorf("failed to get existing item: %w", err)
	}
	if getResp.Item == nil {
		return zero, false, errors.New("item supposedly exists but GetItem returned nothing")
	}

	var existing T
	if err := attributevalue.UnmarshalMap(getResp.Item, &existing); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal existing item: %w", err)
	}
	return existing, false, nil
}

// queryAllByPK returns items of type T with the given PK ordered by SK. A
// limit of 0 means no limit.
func queryAllByPK[T any](dynamoStore *DynamoDoodleStore, ctx context.Context, pk string, scanIndexForward bool, limit int32) ([]T, error) {
	var results []T

	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ScanIndexForward: aws.Bool(scanIndexForward),
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	// dynamodb applies Limit per page, so it's enforced globally too
	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)
	for paginator.HasMorePages() {
		if limit > 0 && len(results) >= int(limit) {
			break
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}

		var pageItems []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal page items: %w", err)
		}
		results = append(results, pageItems...)
	}

	if limit > 0 && len(results) > int(limit) {
		results = results[:limit]
	}
	return results, nil
}

// queryKeysByPK returns the PK/SK pair of every item under pk.
func queryKeysByPK(dynamoStore *DynamoDoodleStore, ctx context.Context, pk string) ([]itemKey, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ProjectionExpression: aws.String("PK, SK"),
	}

	var keys []itemKey
	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query keys failed: %w", err)
		}
		keys = appendKeys(keys, page.Items)
	}
	return keys, nil
}

// scanStrokeKeysBefore returns the keys of every stroke whose Timestamp is
// older than cutoffMillis, across all boards.
func scanStrokeKeysBefore(dynamoStore *DynamoDoodleStore, ctx context.Context, cutoffMillis int64) ([]itemKey, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(dynamoStore.tableName),
		FilterExpression: aws.String("begins_with(PK, :prefix) AND #ts < :cutoff"),
		ExpressionAttributeNames: map[string]string{
			"#ts": "Timestamp",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: strokePKPrefix},
			":cutoff": &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoffMillis, 10)},
		},
		ProjectionExpression: aws.String("PK, SK"),
	}

	var keys []itemKey
	paginator := dynamodb.NewScanPaginator(dynamoStore.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		keys = appendKeys(keys, page.Items)
	}
	return keys, nil
}

func appendKeys(keys []itemKey, items []map[string]types.AttributeValue) []itemKey {
	for _, item := range items {
		pk, okPK := item["PK"]
		sk, okSK := item["SK"]
		if !okPK || !okSK {
			continue
		}
		keys = append(keys, itemKey{"PK": pk, "SK": sk})
	}
	return keys
}

// writeBatchRequests handles batch writes (Put or Delete) with retries.
// Returns any unprocessed items as []T
func writeBatchRequests[T any](dynamoStore *DynamoDoodleStore, ctx context.Context, requests []types.WriteRequest) ([]T, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	backoff := 50 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return unmarshalUnprocessed[T](requests), ctx.Err()
		default:
		}

		resp, err := dynamoStore.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				dynamoStore.tableName: requests,
			},
		})
		if err != nil {
			return unmarshalUnprocessed[T](requests), fmt.Errorf("BatchWriteItem failed: %w", err)
		}

		unprocessed := resp.UnprocessedItems[dynamoStore.tableName]
		if len(unprocessed) == 0 {
			return nil, nil
		}
		requests = unprocessed

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return unmarshalUnprocessed[T](requests), ctx.Err()
		case <-timer.C:
		}

		if backoff < time.Second {
			backoff *= 2
		}
	}
}

// helper to convert WriteRequests back to []T
func unmarshalUnprocessed[T any](reqs []types.WriteRequest) []T {
	failed := make([]T, 0, len(reqs))
	for _, wr := range reqs {
		var av map[string]types.AttributeValue
		switch {
		case wr.PutRequest != nil:
			av = wr.PutRequest.Item
		case wr.DeleteRequest != nil:
			av = wr.DeleteRequest.Key
		default:
			continue
		}
		var item T
		if err := attributevalue.UnmarshalMap(av, &item); err == nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// batchDeleteThrottled deletes keys in 25-item batches, waiting at least
// throttle between batches.
func batchDeleteThrottled(dynamoStore *DynamoDoodleStore, ctx context.Context, keys []itemKey, throttle time.Duration) error {
	for i := 0; i < len(keys); i += 25 {
		end := min(i+25, len(keys))

		delRequests := make([]types.WriteRequest, 0, end-i)
		for _, key := range keys[i:end] {
			delRequests = append(delRequests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}

		startTime := time.Now()
		if _, err := writeBatchRequests[itemKey](dynamoStore, ctx, delRequests); err != nil {
			return fmt.Errorf("batch delete failed: %w", err)
		}

		if end == len(keys) {
			break
		}
		if elapsed := time.Since(startTime); elapsed < throttle {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(throttle - elapsed):
			}
		}
	}
	return nil
}
