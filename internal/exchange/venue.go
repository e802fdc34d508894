package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"livermore/internal/model"
)

// restFetchAttempts bounds one-shot REST fetches (warmup, reconciliation).
const restFetchAttempts = 3

// venue glues a wire implementation to the shared streamer and REST client.
// Every concrete adapter is a venue over its own wire.
type venue struct {
	*streamer
	rest *restClient
	w    wire
}

func newVenue(w wire, restURL string, rps float64) *venue {
	return &venue{
		streamer: newStreamer(w),
		rest:     newRESTClient(w.name(), restURL, rps),
		w:        w,
	}
}

func (v *venue) Name() string { return v.w.name() }

// FetchCandles REST-fetches the most recent limit closed candles, retrying
// transient failures up to three attempts.
func (v *venue) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	path, q := v.w.candlesPath(symbol, tf, limit)
	query := url.Values{}
	for k, val := range q {
		query.Set(k, val)
	}
	body, err := v.rest.getJSONWithRetry(ctx, path, query, restFetchAttempts, v.streamer.backoff)
	if err != nil {
		return nil, err
	}
	candles, err := v.w.parseCandles(body, symbol, tf)
	if err != nil {
		return nil, &APIError{Kind: KindBadRequest, Op: v.w.name() + " parse candles", Cause: err}
	}
	return candles, nil
}

// New builds the adapter for one exchanges row. Exchanges listed by config
// without an implementation fail fast here rather than at first connect.
func New(ex *model.Exchange) (Adapter, error) {
	name := strings.ToLower(ex.Name)
	switch name {
	case "coinbase":
		return newCoinbase(ex), nil
	case "binance", "binance_us":
		return newBinance(ex), nil
	case "kraken":
		return newKraken(ex), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAdapter, ex.Name)
	}
}
