package redis

import (
	"context"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"livermore/internal/cachekeys"
)

// activityMaxLen caps the per-exchange activity stream (approximate trim).
const activityMaxLen = 1000

// AppendActivity appends one flat string-map event to the exchange activity
// stream, trimming it to a capped length.
func (s *Store) AppendActivity(ctx context.Context, exchangeID int, fields map[string]interface{}) error {
	err := s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: cachekeys.Activity(exchangeID),
		MaxLen: activityMaxLen,
		Approx: true,
		Values: fields,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd activity: %w", err)
	}
	return nil
}

// ReadActivity returns the newest count activity entries, newest first.
func (s *Store) ReadActivity(ctx context.Context, exchangeID int, count int64) ([]goredis.XMessage, error) {
	msgs, err := s.client.XRevRangeN(ctx, cachekeys.Activity(exchangeID), "+", "-", count).Result()
	if err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("xrevrange activity: %w", err)
	}
	return msgs, nil
}
