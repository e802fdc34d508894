package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"livermore/internal/store/postgres"
)

// alertRecord is the public alert shape from scenario-tested field set:
// generic labels only, internal alert_type and raw labels stay behind the
// boundary.
type alertRecord struct {
	Exchange   string `json:"exchange"`
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	SignalType string `json:"signal_type"`
	Direction  string `json:"direction"`
	Strength   string `json:"strength"`
	Price      string `json:"price"`
	Timestamp  string `json:"timestamp"`
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	beforeID, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed cursor")
		return
	}
	limit := pageSize(r)

	q := r.URL.Query()
	// The public feed only carries momentum-family alerts; other alert_type
	// rows stay internal.
	filter := postgres.AlertFilter{
		AlertTypePrefix: signalIndicatorType + "_",
		Exchange:        q.Get("exchange"),
		Symbol:          q.Get("symbol"),
		Timeframe:       q.Get("timeframe"),
	}

	rows, err := s.db.ListAlerts(r.Context(), filter, beforeID, limit+1)
	if err != nil {
		log.Warn().Str("component", "api").Err(err).Msg("alerts query failed")
		writeError(w, http.StatusInternalServerError, "internal", "alerts query failed")
		return
	}

	m := &meta{}
	if len(rows) > limit {
		rows = rows[:limit]
		m.HasMore = true
		m.NextCursor = encodeCursor(rows[len(rows)-1].ID)
	}
	m.Count = len(rows)

	records := make([]alertRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, alertRecord{
			Exchange:   row.ExchangeName,
			Symbol:     row.Symbol,
			Timeframe:  row.Timeframe,
			SignalType: "momentum_signal",
			Direction:  triggerDirection(row.TriggerLabel),
			Strength:   strengthBand(row.TriggerValue),
			Price:      formatPrice(row.Price),
			Timestamp:  row.TriggeredAt,
		})
	}
	writeData(w, records, m)
}

// triggerDirection maps internal trigger labels to a public side. Unknown
// labels default to bearish.
func triggerDirection(label string) string {
	switch {
	case label == "reversal_oversold":
		return "bullish"
	case label == "reversal_overbought":
		return "bearish"
	case strings.HasPrefix(label, "level_"):
		n, err := strconv.Atoi(strings.TrimPrefix(label, "level_"))
		if err == nil && n >= 0 {
			return "bullish"
		}
		return "bearish"
	default:
		return "bearish"
	}
}
