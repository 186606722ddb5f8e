package redis

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zlnvch/doodleup/cache"
)

type RedisDoodleCache struct {
	client redis.UniversalClient
}

func NewRedisDoodleCache(ctx context.Context, devMode bool, redisEndpoint string) (*RedisDoodleCache, error) {
	opts := &redis.Options{Addr: redisEndpoint}
	if !devMode {
		// Managed redis endpoints require TLS
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return NewRedisDoodleCacheFromClient(client), nil
}

// NewRedisDoodleCacheFromClient wraps an already configured client, such as
// a cluster client.
func NewRedisDoodleCacheFromClient(client redis.UniversalClient) *RedisDoodleCache {
	return &RedisDoodleCache{client: client}
}

func (redisCache *RedisDoodleCache) Close() error {
	return redisCache.client.Close()
}

// Keys share a hash tag so one board's keys land on the same cluster slot.
func buildBoardKey(boardCode string) string {
	return "board:{" + boardCode + "}"
}

func buildBoardDataKey(boardCode string) string {
	return "board:{" + boardCode + "}:data"
}

func buildBoardCompleteKey(boardCode string) string {
	return "board:{" + boardCode + "}:complete"
}

const (
	cacheTTL = 10 * time.Minute

	// maxCachedStrokes bounds what GetStrokes returns per board.
	maxCachedStrokes = 5000
)

// Strokes are split across two keys: a ZSet of stroke ids scored by
// timestamp for ordering, and a hash of id -> JSON for the payloads.
func (redisCache *RedisDoodleCache) AddStrokesBatch(ctx context.Context, boardCode string, strokes []cache.StrokeCacheItem) error {
	if len(strokes) == 0 {
		return nil
	}

	key := buildBoardKey(boardCode)
	dataKey := buildBoardDataKey(boardCode)
	completeKey := buildBoardCompleteKey(boardCode)

	zMembers := make([]redis.Z, len(strokes))
	hValues := make([]interface{}, len(strokes)*2)
	for i, s := range strokes {
		zMembers[i] = redis.Z{
			Score:  float64(s.Score),
			Member: s.StrokeId,
		}
		hValues[i*2] = s.StrokeId
		hValues[i*2+1] = s.Data
	}

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, key, zMembers...)
	pipe.HSet(ctx, dataKey, hValues...)
	pipe.Expire(ctx, completeKey, cacheTTL)
	pipe.Expire(ctx, key, cacheTTL)
	pipe.Expire(ctx, dataKey, cacheTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (redisCache *RedisDoodleCache) GetStrokes(ctx context.Context, boardCode string) ([][]byte, error) {
	key := buildBoardKey(boardCode)
	dataKey := buildBoardDataKey(boardCode)
	completeKey := buildBoardCompleteKey(boardCode)

	ids, err := redisCache.client.ZRange(ctx, key, -maxCachedStrokes, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return [][]byte{}, nil
	}

	dataMap, err := redisCache.client.HMGet(ctx, dataKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	strokes := make([][]byte, 0, len(ids))
	for _, item := range dataMap {
		if s, ok := item.(string); ok {
			strokes = append(strokes, []byte(s))
		}
	}

	// Refresh TTL
	pipe := redisCache.client.Pipeline()
	pipe.Expire(ctx, completeKey, cacheTTL)
	pipe.Expire(ctx, key, cacheTTL)
	pipe.Expire(ctx, dataKey, cacheTTL)
	_, _ = pipe.Exec(ctx)

	return strokes, nil
}

func (redisCache *RedisDoodleCache) SetBoardComplete(ctx context.Context, boardCode string) error {
	return redisCache.client.Set(ctx, buildBoardCompleteKey(boardCode), "true", cacheTTL).Err()
}

func (redisCache *RedisDoodleCache) IsBoardComplete(ctx context.Context, boardCode string) (bool, error) {
	val, err := redisCache.client.Exists(ctx, buildBoardCompleteKey(boardCode)).Result()
	if err != nil {
		return false, err
	}
	return val > 0, nil
}

func (redisCache *RedisDoodleCache) InvalidateBoards(ctx context.Context, boardCodes []string) error {
	// Boards hash to different slots, so each gets its own DEL.
	for _, boardCode := range boardCodes {
		key := buildBoardKey(boardCode)
		dataKey := buildBoardDataKey(boardCode)
		completeKey := buildBoardCompleteKey(boardCode)

		if err := redisCache.client.Del(ctx, key, dataKey, completeKey).Err(); err != nil {
			return err
		}
	}
	return nil
}
