// Package cachekeys is the single place that builds Redis keys. No other
// component assembles cache keys from strings: every key crossing an exchange
// boundary embeds the exchange id so instances sharing one Redis can never
// confuse each other's market data.
package cachekeys

import (
	"strconv"

	"livermore/internal/model"
)

// Candles returns the sorted-set key holding candles for one series.
// score = timestamp_ms, member = JSON candle including sequence_num.
func Candles(exchangeID int, symbol string, tf model.Timeframe) string {
	return "candles:" + strconv.Itoa(exchangeID) + ":" + symbol + ":" + string(tf)
}

// CandlesPattern matches every candle key of one exchange (for SCAN dumps).
func CandlesPattern(exchangeID int) string {
	return "candles:" + strconv.Itoa(exchangeID) + ":*"
}

// Indicator returns the string key holding the latest derived value of one
// (exchange, symbol, timeframe, type).
func Indicator(exchangeID int, symbol string, tf model.Timeframe, indType string) string {
	return "indicator:" + strconv.Itoa(exchangeID) + ":" + symbol + ":" + string(tf) + ":" + indType
}

// Ticker returns the string key holding the last-trade snapshot.
func Ticker(exchangeID int, symbol string) string {
	return "ticker:" + strconv.Itoa(exchangeID) + ":" + symbol
}

// CandleClose returns the pub/sub channel on which closed candles are announced.
func CandleClose(exchangeID int, symbol string, tf model.Timeframe) string {
	return "channel:candle:close:" + strconv.Itoa(exchangeID) + ":" + symbol + ":" + string(tf)
}

// CandleClosePattern matches every close channel of one exchange, for PSUBSCRIBE.
func CandleClosePattern(exchangeID int) string {
	return "channel:candle:close:" + strconv.Itoa(exchangeID) + ":*"
}

// ExchangeAlerts returns the cross-exchange alert bus channel for one exchange.
func ExchangeAlerts(exchangeID int) string {
	return "channel:alerts:exchange:" + strconv.Itoa(exchangeID)
}

// WarmupSchedule returns the key holding the persisted warmup plan.
func WarmupSchedule(exchangeID int) string {
	return "exchange:" + strconv.Itoa(exchangeID) + ":warm-up-schedule:symbols"
}

// WarmupStats returns the key holding the live warmup progress snapshot.
func WarmupStats(exchangeID int) string {
	return "exchange:" + strconv.Itoa(exchangeID) + ":warm-up-schedule:stats"
}

// InstanceStatus returns the TTL'd presence key of one instance. Key absence
// means the instance is offline.
func InstanceStatus(exchangeID int) string {
	return "exchange:" + strconv.Itoa(exchangeID) + ":status"
}

// Activity returns the capped stream of state transitions and errors.
func Activity(exchangeID int) string {
	return "exchange:" + strconv.Itoa(exchangeID) + ":activity"
}

// Commands returns the control channel an operator UI publishes commands on.
func Commands(userID string) string {
	return "livermore:commands:" + userID
}

// CommandResponses returns the channel command results are published back on.
func CommandResponses(userID string) string {
	return "livermore:commands:" + userID + ":responses"
}
