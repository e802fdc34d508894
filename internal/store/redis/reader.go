package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"livermore/internal/cachekeys"
	"livermore/internal/model"
)

// CandleCount returns the number of cached candles for one series.
func (s *Store) CandleCount(ctx context.Context, exchangeID int, symbol string, tf model.Timeframe) (int64, error) {
	n, err := s.client.ZCard(ctx, cachekeys.Candles(exchangeID, symbol, tf)).Result()
	if err != nil && err != goredis.Nil {
		return 0, fmt.Errorf("zcard: %w", err)
	}
	return n, nil
}

// NewestCandle returns the most recent cached candle, or nil if the series is
// empty. Corrupt members are treated as missing.
func (s *Store) NewestCandle(ctx context.Context, exchangeID int, symbol string, tf model.Timeframe) (*model.Candle, error) {
	key := cachekeys.Candles(exchangeID, symbol, tf)
	members, err := s.client.ZRevRange(ctx, key, 0, 0).Result()
	if err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("zrevrange %s: %w", key, err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	var c model.Candle
	if err := json.Unmarshal([]byte(members[0]), &c); err != nil {
		log.Warn().Str("component", "redis").Str("key", key).Msg("corrupt newest candle member")
		return nil, nil
	}
	return &c, nil
}

// ReadCandles returns up to limit candles with open time in (afterMS, beforeMS],
// oldest first. afterMS < 0 means unbounded below; beforeMS <= 0 means
// unbounded above.
func (s *Store) ReadCandles(ctx context.Context, exchangeID int, symbol string, tf model.Timeframe, afterMS, beforeMS int64, limit int) ([]model.Candle, error) {
	key := cachekeys.Candles(exchangeID, symbol, tf)
	min := "-inf"
	if afterMS >= 0 {
		min = "(" + strconv.FormatInt(afterMS, 10)
	}
	max := "+inf"
	if beforeMS > 0 {
		max = strconv.FormatInt(beforeMS, 10)
	}
	members, err := s.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: min, Max: max, Count: int64(limit),
	}).Result()
	if err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}
	candles := make([]model.Candle, 0, len(members))
	for _, m := range members {
		var c model.Candle
		if err := json.Unmarshal([]byte(m), &c); err != nil {
			continue // corrupt member: skipped, boundary reconciliation repairs it
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// RecentCandles returns the newest n candles of a series, oldest first.
func (s *Store) RecentCandles(ctx context.Context, exchangeID int, symbol string, tf model.Timeframe, n int) ([]model.Candle, error) {
	key := cachekeys.Candles(exchangeID, symbol, tf)
	members, err := s.client.ZRevRange(ctx, key, 0, int64(n-1)).Result()
	if err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("zrevrange %s: %w", key, err)
	}
	candles := make([]model.Candle, 0, len(members))
	for i := len(members) - 1; i >= 0; i-- {
		var c model.Candle
		if err := json.Unmarshal([]byte(members[i]), &c); err != nil {
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// ReadIndicator returns the latest derived value, or nil if absent or corrupt.
func (s *Store) ReadIndicator(ctx context.Context, exchangeID int, symbol string, tf model.Timeframe, indType string) (*model.IndicatorValue, error) {
	key := cachekeys.Indicator(exchangeID, symbol, tf, indType)
	data, err := s.client.Get(ctx, key).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var v model.IndicatorValue
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, nil
	}
	return &v, nil
}

// ReadTicker returns the last-trade snapshot, or nil if absent.
func (s *Store) ReadTicker(ctx context.Context, exchangeID int, symbol string) (*model.Ticker, error) {
	data, err := s.client.Get(ctx, cachekeys.Ticker(exchangeID, symbol)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var t model.Ticker
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, nil
	}
	return &t, nil
}

// ReadInstanceStatus returns the presence document for one exchange, or nil if
// the key is absent or unparseable (a corrupt status is non-fatal).
func (s *Store) ReadInstanceStatus(ctx context.Context, exchangeID int) (*model.InstanceStatus, error) {
	data, err := s.client.Get(ctx, cachekeys.InstanceStatus(exchangeID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	var st model.InstanceStatus
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		log.Warn().Str("component", "redis").Int("exchange_id", exchangeID).Msg("corrupt status document")
		return nil, nil
	}
	return &st, nil
}

// ReadWarmupStats returns the live warmup snapshot, or nil if none.
func (s *Store) ReadWarmupStats(ctx context.Context, exchangeID int) (*model.WarmupStats, error) {
	data, err := s.client.Get(ctx, cachekeys.WarmupStats(exchangeID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st model.WarmupStats
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, nil
	}
	return &st, nil
}

// ReadWarmupSchedule returns the persisted warmup plan, or nil if none.
func (s *Store) ReadWarmupSchedule(ctx context.Context, exchangeID int) (*model.WarmupSchedule, error) {
	data, err := s.client.Get(ctx, cachekeys.WarmupSchedule(exchangeID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sched model.WarmupSchedule
	if err := json.Unmarshal([]byte(data), &sched); err != nil {
		return nil, nil
	}
	return &sched, nil
}

// SubscribeCloses pattern-subscribes to every close channel of one exchange
// and forwards decoded candles to out. Blocks until ctx is cancelled.
func (s *Store) SubscribeCloses(ctx context.Context, exchangeID int, out chan<- model.Candle) error {
	sub := s.client.PSubscribe(ctx, cachekeys.CandleClosePattern(exchangeID))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var payload ClosePayload
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				log.Warn().Str("component", "redis").Str("channel", msg.Channel).Msg("bad close payload")
				continue
			}
			select {
			case out <- payload.Candle:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// SubscribeCommands subscribes to the instance control channel and forwards
// decoded commands to out. Blocks until ctx is cancelled.
func (s *Store) SubscribeCommands(ctx context.Context, userID string, out chan<- model.ControlCommand) error {
	sub := s.client.Subscribe(ctx, cachekeys.Commands(userID))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var cmd model.ControlCommand
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				log.Warn().Str("component", "redis").Msg("bad control command payload")
				continue
			}
			select {
			case out <- cmd:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
