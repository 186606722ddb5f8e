package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zlnvch/doodleup/models"
	"github.com/zlnvch/doodleup/store"
)

// Pause between 25-item delete batches so bulk deletes don't eat the
// table's write capacity.
const deleteThrottle = 50 * time.Millisecond

type DynamoDoodleStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoDoodleStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoDoodleStore, error) {
	client, err := newDynamoDBClient(ctx, devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	foundTable := false
	for _, table := range tables {
		if table == tableName {
			foundTable = true
			break
		}
	}
	if !foundTable {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoDoodleStore{client: client, tableName: tableName}, nil
}

// GetStrokes returns up to limit of the newest strokes of a board, oldest
// first.
func (dynamoStore *DynamoDoodleStore) GetStrokes(ctx context.Context, boardCode string, limit int) ([]models.Stroke, error) {
	dynamoStrokes, err := queryAllByPK[dynamoStroke](dynamoStore, ctx, strokePKPrefix+boardCode, false, int32(limit))
	if err != nil {
		return []models.Stroke{}, err
	}

	// Reverse them to return chronological order (Oldest -> Newest)
	strokes := make([]models.Stroke, 0, len(dynamoStrokes))
	for i := len(dynamoStrokes) - 1; i >= 0; i-- {
		strokes = append(strokes, strokeFromDynamo(dynamoStrokes[i]))
	}

	return strokes, nil
}

func (dynamoStore *DynamoDoodleStore) WriteStrokeBatch(ctx context.Context, strokes []models.Stroke) ([]models.Stroke, error) {
	var writeRequests []types.WriteRequest
	for _, stroke := range strokes {
		avMap, err := attributevalue.MarshalMap(strokeToDynamo(stroke))
		if err != nil {
			return strokes, fmt.Errorf("marshal error: %w", err)
		}

		writeRequests = append(writeRequests, types.WriteRequest{
			PutRequest: &types.PutRequest{
				Item: avMap,
			},
		})
	}

	var unprocessed []dynamoStroke
	var writeErr error
	// BatchWriteItem accepts at most 25 requests
	for i := 0; i < len(writeRequests); i += 25 {
		end := min(i+25, len(writeRequests))
		failed, err := writeBatchRequests[dynamoStroke](dynamoStore, ctx, writeRequests[i:end])
		unprocessed = append(unprocessed, failed...)
		if err != nil {
			writeErr = errors.Join(writeErr, err)
		}
	}

	unbatchedStrokes := make([]models.Stroke, 0, len(unprocessed))
	for _, u := range unprocessed {
		unbatchedStrokes = append(unbatchedStrokes, strokeFromDynamo(u))
	}

	return unbatchedStrokes, writeErr
}

func (dynamoStore *DynamoDoodleStore) DeleteBoardStrokes(ctx context.Context, boardCode string) error {
	keys, err := queryKeysByPK(dynamoStore, ctx, strokePKPrefix+boardCode)
	if err != nil {
		return err
	}
	return batchDeleteThrottled(dynamoStore, ctx, keys, deleteThrottle)
}

func (dynamoStore *DynamoDoodleStore) DeleteStrokesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := scanStrokeKeysBefore(dynamoStore, ctx, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	if err := batchDeleteThrottled(dynamoStore, ctx, keys, deleteThrottle); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (dynamoStore *DynamoDoodleStore) PutBoard(ctx context.Context, board models.Board) error {
	_, created, err := ensureItem(dynamoStore, ctx, boardToDynamo(board))
	if err != nil {
		return err
	}
	if !created {
		return store.ErrItemExists
	}
	return nil
}

func (dynamoStore *DynamoDoodleStore) ListBoards(ctx context.Context) ([]models.Board, error) {
	dynamoBoards, err := queryAllByPK[dynamoBoard](dynamoStore, ctx, boardPK, true, 0)
	if err != nil {
		return nil, err
	}

	boards := make([]models.Board, 0, len(dynamoBoards))
	for _, db := range dynamoBoards {
		boards = append(boards, boardFromDynamo(db))
	}
	return boards, nil
}
