package redis

import (
	"context"
	"encoding/json"
	"testing"

	goredis "github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livermore/internal/cachekeys"
	"livermore/internal/model"
)

func testCandle(seq int64, closed bool) model.Candle {
	return model.Candle{
		ExchangeID:  1,
		Symbol:      "BTC-USD",
		Timeframe:   model.TF5m,
		TimestampMS: 1_700_000_000_000,
		Open:        50000, High: 50100, Low: 49900, Close: 50050,
		Volume:      12.5,
		SequenceNum: seq,
		Closed:      closed,
	}
}

func TestAddCandleIfNewer_FreshWritePublishesClose(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewWithClient(db, 1000)

	c := testCandle(5, true)
	key := cachekeys.Candles(1, "BTC-USD", model.TF5m)
	payload, _ := json.Marshal(ClosePayload{Candle: c})

	mock.ExpectZRangeByScore(key, &goredis.ZRangeBy{
		Min: "1700000000000", Max: "1700000000000",
	}).SetVal([]string{})
	mock.ExpectZAdd(key, &goredis.Z{Score: float64(c.TimestampMS), Member: string(c.JSON())}).SetVal(1)
	mock.ExpectZRemRangeByRank(key, 0, -1001).SetVal(0)
	mock.ExpectPublish(cachekeys.CandleClose(1, "BTC-USD", model.TF5m), string(payload)).SetVal(1)

	written, err := s.AddCandleIfNewer(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCandleIfNewer_LowerSequenceDiscarded(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewWithClient(db, 1000)

	existing := testCandle(5, true)
	key := cachekeys.Candles(1, "BTC-USD", model.TF5m)
	mock.ExpectZRangeByScore(key, &goredis.ZRangeBy{
		Min: "1700000000000", Max: "1700000000000",
	}).SetVal([]string{string(existing.JSON())})

	written, err := s.AddCandleIfNewer(context.Background(), testCandle(3, true))
	require.NoError(t, err)
	assert.False(t, written, "stale sequence must be discarded")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCandleIfNewer_HigherSequenceReplaces(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewWithClient(db, 1000)

	existing := testCandle(5, true)
	amended := testCandle(9, true)
	key := cachekeys.Candles(1, "BTC-USD", model.TF5m)
	payload, _ := json.Marshal(ClosePayload{Candle: amended})

	mock.ExpectZRangeByScore(key, &goredis.ZRangeBy{
		Min: "1700000000000", Max: "1700000000000",
	}).SetVal([]string{string(existing.JSON())})
	mock.ExpectZRemRangeByScore(key, "1700000000000", "1700000000000").SetVal(1)
	mock.ExpectZAdd(key, &goredis.Z{Score: float64(amended.TimestampMS), Member: string(amended.JSON())}).SetVal(1)
	mock.ExpectZRemRangeByRank(key, 0, -1001).SetVal(0)
	mock.ExpectPublish(cachekeys.CandleClose(1, "BTC-USD", model.TF5m), string(payload)).SetVal(1)

	written, err := s.AddCandleIfNewer(context.Background(), amended)
	require.NoError(t, err)
	assert.True(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCandleIfNewer_OpenCandleDoesNotPublish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewWithClient(db, 1000)

	c := testCandle(1, false)
	key := cachekeys.Candles(1, "BTC-USD", model.TF5m)

	mock.ExpectZRangeByScore(key, &goredis.ZRangeBy{
		Min: "1700000000000", Max: "1700000000000",
	}).SetVal([]string{})
	mock.ExpectZAdd(key, &goredis.Z{Score: float64(c.TimestampMS), Member: string(c.JSON())}).SetVal(1)
	mock.ExpectZRemRangeByRank(key, 0, -1001).SetVal(0)

	written, err := s.AddCandleIfNewer(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}
