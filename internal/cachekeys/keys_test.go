package cachekeys

import (
	"testing"

	"livermore/internal/model"
)

func TestKeysAreExchangeScoped(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"candles", Candles(1, "BTC-USD", model.TF5m), "candles:1:BTC-USD:5m"},
		{"candles pattern", CandlesPattern(1), "candles:1:*"},
		{"indicator", Indicator(2, "ETH-USD", model.TF1h, "macdv"), "indicator:2:ETH-USD:1h:macdv"},
		{"ticker", Ticker(3, "BTC-USD"), "ticker:3:BTC-USD"},
		{"close channel", CandleClose(1, "BTC-USD", model.TF1m), "channel:candle:close:1:BTC-USD:1m"},
		{"close pattern", CandleClosePattern(1), "channel:candle:close:1:*"},
		{"alert bus", ExchangeAlerts(4), "channel:alerts:exchange:4"},
		{"schedule", WarmupSchedule(1), "exchange:1:warm-up-schedule:symbols"},
		{"stats", WarmupStats(1), "exchange:1:warm-up-schedule:stats"},
		{"status", InstanceStatus(7), "exchange:7:status"},
		{"activity", Activity(7), "exchange:7:activity"},
		{"commands", Commands("u-42"), "livermore:commands:u-42"},
		{"responses", CommandResponses("u-42"), "livermore:commands:u-42:responses"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}
