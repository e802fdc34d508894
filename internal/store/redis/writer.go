package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"livermore/internal/cachekeys"
	"livermore/internal/model"
)

// ClosePayload is the message published on a candle close channel.
type ClosePayload struct {
	Candle model.Candle `json:"candle"`
}

// AddCandleIfNewer is the sole path by which candles enter the cache, from
// streaming and REST alike. The write is monotonic: at a given timestamp the
// member with the highest sequence_num wins, and losing writes are discarded.
// Returns true when the candle was written.
func (s *Store) AddCandleIfNewer(ctx context.Context, c model.Candle) (bool, error) {
	key := cachekeys.Candles(c.ExchangeID, c.Symbol, c.Timeframe)
	score := strconv.FormatInt(c.TimestampMS, 10)

	existing, err := s.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{Min: score, Max: score}).Result()
	if err != nil && err != goredis.Nil {
		return false, fmt.Errorf("zrangebyscore %s: %w", key, err)
	}

	replacing := false
	for _, member := range existing {
		var cur model.Candle
		if err := json.Unmarshal([]byte(member), &cur); err != nil {
			// Corrupt member: treat as missing and let the write repair it.
			log.Warn().Str("component", "redis").Str("key", key).Msg("corrupt candle member, overwriting")
			replacing = true
			continue
		}
		if c.SequenceNum <= cur.SequenceNum {
			return false, nil
		}
		replacing = true
	}

	pipe := s.client.Pipeline()
	if replacing {
		pipe.ZRemRangeByScore(ctx, key, score, score)
	}
	pipe.ZAdd(ctx, key, &goredis.Z{Score: float64(c.TimestampMS), Member: string(c.JSON())})
	// Trim to the most recent maxCandles members.
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-(s.maxCandles + 1)))
	if c.Closed {
		payload, _ := json.Marshal(ClosePayload{Candle: c})
		pipe.Publish(ctx, cachekeys.CandleClose(c.ExchangeID, c.Symbol, c.Timeframe), string(payload))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("candle write pipeline %s: %w", key, err)
	}
	return true, nil
}

// WriteTicker overwrites the last-trade snapshot for one symbol. No history.
func (s *Store) WriteTicker(ctx context.Context, t model.Ticker) error {
	return s.client.Set(ctx, cachekeys.Ticker(t.ExchangeID, t.Symbol), string(t.JSON()), 0).Err()
}

// WriteIndicator replaces the latest derived value for one series and type.
func (s *Store) WriteIndicator(ctx context.Context, v model.IndicatorValue) error {
	key := cachekeys.Indicator(v.ExchangeID, v.Symbol, v.Timeframe, v.Type)
	return s.client.Set(ctx, key, string(v.JSON()), 0).Err()
}

// PublishAlert publishes an alert on the cross-exchange alert bus.
func (s *Store) PublishAlert(ctx context.Context, a model.BusAlert) error {
	return s.client.Publish(ctx, cachekeys.ExchangeAlerts(a.SourceExchangeID), string(a.JSON())).Err()
}

// WriteWarmupSchedule persists the warmup plan before execution begins.
func (s *Store) WriteWarmupSchedule(ctx context.Context, sched *model.WarmupSchedule) error {
	return s.client.Set(ctx, cachekeys.WarmupSchedule(sched.ExchangeID), string(sched.JSON()), 0).Err()
}

// WriteWarmupStats overwrites the live progress snapshot.
func (s *Store) WriteWarmupStats(ctx context.Context, exchangeID int, stats *model.WarmupStats) error {
	stats.UpdatedAt = time.Now().UTC()
	return s.client.Set(ctx, cachekeys.WarmupStats(exchangeID), string(stats.JSON()), 0).Err()
}

// WriteInstanceStatus writes the presence document with the heartbeat TTL.
// The TTL is what makes key absence mean "offline".
func (s *Store) WriteInstanceStatus(ctx context.Context, st *model.InstanceStatus) error {
	key := cachekeys.InstanceStatus(st.ExchangeID)
	return s.client.Set(ctx, key, string(st.JSON()), model.HeartbeatTTL).Err()
}

// PublishCommandResult publishes a command outcome on the response channel.
func (s *Store) PublishCommandResult(ctx context.Context, userID string, r *model.CommandResult) error {
	return s.client.Publish(ctx, cachekeys.CommandResponses(userID), string(r.JSON())).Err()
}
