package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"livermore/internal/model"
	"livermore/internal/store/postgres"
)

// candleRecord is the public candle shape. Prices are strings so clients
// never lose precision to float rounding.
type candleRecord struct {
	Timestamp int64  `json:"timestamp"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	tf, err := model.ParseTimeframe(vars["timeframe"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown timeframe")
		return
	}
	ex, err := s.db.ExchangeByName(r.Context(), vars["exchange"])
	if err != nil {
		if errors.Is(err, postgres.ErrExchangeNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "unknown exchange")
			return
		}
		log.Warn().Str("component", "api").Err(err).Msg("exchange lookup failed")
		writeError(w, http.StatusInternalServerError, "internal", "exchange lookup failed")
		return
	}

	afterMS, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed cursor")
		return
	}
	limit := pageSize(r)

	candles, err := s.cache.ReadCandles(r.Context(), ex.ID, vars["symbol"], tf, afterMS, 0, limit+1)
	if err != nil {
		log.Warn().Str("component", "api").Err(err).Msg("candle read failed")
		writeError(w, http.StatusInternalServerError, "internal", "candle read failed")
		return
	}

	m := &meta{}
	if len(candles) > limit {
		candles = candles[:limit]
		m.HasMore = true
		m.NextCursor = encodeCursor(candles[len(candles)-1].TimestampMS)
	}
	m.Count = len(candles)

	records := make([]candleRecord, 0, len(candles))
	for _, c := range candles {
		records = append(records, candleRecord{
			Timestamp: c.TimestampMS,
			Open:      formatPrice(c.Open),
			High:      formatPrice(c.High),
			Low:       formatPrice(c.Low),
			Close:     formatPrice(c.Close),
			Volume:    formatPrice(c.Volume),
		})
	}
	writeData(w, records, m)
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
