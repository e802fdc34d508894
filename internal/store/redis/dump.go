package redis

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"livermore/internal/cachekeys"
)

const dumpScanBatch = 200

// DumpExchangeCandles deletes every candle key of one exchange so a full
// refresh starts from a known empty slate. Uses SCAN with per-key UNLINK in
// batched pipelines; safe on clusters where matched keys span slots.
func (s *Store) DumpExchangeCandles(ctx context.Context, exchangeID int) (int, error) {
	pattern := cachekeys.CandlesPattern(exchangeID)
	deleted := 0
	var cursor uint64

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, dumpScanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan %s: %w", pattern, err)
		}

		if len(keys) > 0 {
			pipe := s.client.Pipeline()
			for _, key := range keys {
				pipe.Unlink(ctx, key)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return deleted, fmt.Errorf("unlink batch: %w", err)
			}
			deleted += len(keys)
		}

		cursor = next
		if cursor == 0 {
			break
		}
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
	}

	log.Info().Str("component", "redis").Int("exchange_id", exchangeID).
		Int("keys_deleted", deleted).Msg("candle cache dumped")
	return deleted, nil
}
