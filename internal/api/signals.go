package api

import (
	"errors"
	"math"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"livermore/internal/model"
	"livermore/internal/store/postgres"
)

// signalIndicatorType is used only for cache key construction; it never
// appears in a response body.
const signalIndicatorType = "momentum"

// signalTimeframes is the fixed set the signals endpoint reports on.
var signalTimeframes = []model.Timeframe{model.TF15m, model.TF1h, model.TF4h, model.TF1d}

// signalRecord is the public signal shape: generic direction and strength
// labels, no stage names, no calculator outputs beyond the headline value.
type signalRecord struct {
	Timeframe string  `json:"timeframe"`
	Type      string  `json:"type"`
	Direction string  `json:"direction"`
	Strength  string  `json:"strength"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
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

	records := make([]signalRecord, 0, len(signalTimeframes))
	for _, tf := range signalTimeframes {
		v, err := s.cache.ReadIndicator(r.Context(), ex.ID, vars["symbol"], tf, signalIndicatorType)
		if err != nil {
			log.Warn().Str("component", "api").Err(err).Msg("indicator read failed")
			writeError(w, http.StatusInternalServerError, "internal", "indicator read failed")
			return
		}
		// Unseeded values are omitted entirely, not downgraded to weak.
		if v == nil || !v.Params.Seeded {
			continue
		}
		raw := v.Value["macdV"]
		records = append(records, signalRecord{
			Timeframe: string(tf),
			Type:      "momentum_signal",
			Direction: direction(v.Params.Stage),
			Strength:  strengthBand(raw),
			Value:     raw,
			Timestamp: v.TimestampMS,
		})
	}
	writeData(w, records, &meta{Count: len(records)})
}

// direction collapses internal stage names to a public side.
func direction(stage string) string {
	switch stage {
	case "rallying", "bottoming":
		return "bullish"
	case "declining", "topping":
		return "bearish"
	default:
		return "neutral"
	}
}

// strengthBand maps |value| to the public strength label.
func strengthBand(v float64) string {
	a := math.Abs(v)
	switch {
	case a < 30:
		return "weak"
	case a < 80:
		return "moderate"
	case a < 150:
		return "strong"
	default:
		return "extreme"
	}
}
