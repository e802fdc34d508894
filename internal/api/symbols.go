package api

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// symbolRecord is the public symbol shape. The raw liquidity_score stays
// internal; clients see only the banded label.
type symbolRecord struct {
	Exchange    string  `json:"exchange"`
	DisplayName string  `json:"display_name"`
	Symbol      string  `json:"symbol"`
	BaseAsset   string  `json:"base_asset"`
	QuoteAsset  string  `json:"quote_asset"`
	Volume24h   float64 `json:"volume_24h"`
	Rank        int     `json:"rank"`
	Liquidity   string  `json:"liquidity"`
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	limit := pageSize(r)
	rows, err := s.db.SymbolsWithExchange(r.Context(), limit)
	if err != nil {
		log.Warn().Str("component", "api").Err(err).Msg("symbols query failed")
		writeError(w, http.StatusInternalServerError, "internal", "symbols query failed")
		return
	}

	records := make([]symbolRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, symbolRecord{
			Exchange:    row.ExchangeName,
			DisplayName: row.ExchangeDisplayName,
			Symbol:      row.Symbol,
			BaseAsset:   row.BaseAsset,
			QuoteAsset:  row.QuoteAsset,
			Volume24h:   row.Volume24h,
			Rank:        row.Rank,
			Liquidity:   liquidityBand(row.LiquidityScore),
		})
	}
	writeData(w, records, &meta{Count: len(records)})
}

// liquidityBand maps the internal [0,1] score to a public label.
func liquidityBand(score float64) string {
	switch {
	case score >= 0.6:
		return "high"
	case score >= 0.3:
		return "medium"
	default:
		return "low"
	}
}
