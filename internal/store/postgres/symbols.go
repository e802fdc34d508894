package postgres

import (
	"context"
	"fmt"

	"livermore/internal/model"
)

const symbolColumns = `exchange_id, symbol, base_asset, quote_asset,
	volume_24h, market_cap, rank, liquidity_score, is_active`

// SymbolsByExchange lists the active symbol universe of one exchange ordered
// by rank (rank 1 = sentinel symbol).
func (db *DB) SymbolsByExchange(ctx context.Context, exchangeID int) ([]model.ExchangeSymbol, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+symbolColumns+`
		   FROM exchange_symbols
		  WHERE exchange_id = $1 AND is_active
		  ORDER BY rank`, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("query exchange_symbols: %w", err)
	}
	defer rows.Close()

	var out []model.ExchangeSymbol
	for rows.Next() {
		var s model.ExchangeSymbol
		if err := rows.Scan(&s.ExchangeID, &s.Symbol, &s.BaseAsset, &s.QuoteAsset,
			&s.Volume24h, &s.MarketCap, &s.Rank, &s.LiquidityScore, &s.IsActive); err != nil {
			return nil, fmt.Errorf("scan exchange_symbol: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SentinelSymbol returns the #1-ranked symbol of one exchange: the cheap proxy
// for the health of the whole data pipeline.
func (db *DB) SentinelSymbol(ctx context.Context, exchangeID int) (string, error) {
	var symbol string
	err := db.pool.QueryRow(ctx,
		`SELECT symbol FROM exchange_symbols
		  WHERE exchange_id = $1 AND is_active
		  ORDER BY rank LIMIT 1`, exchangeID).Scan(&symbol)
	if err != nil {
		return "", fmt.Errorf("sentinel symbol: %w", err)
	}
	return symbol, nil
}

// JoinedSymbol is one row of the /symbols public listing.
type JoinedSymbol struct {
	model.ExchangeSymbol
	ExchangeName        string
	ExchangeDisplayName string
}

// SymbolsWithExchange joins exchange_symbols against exchanges for the public
// listing, cursor-paginated by (exchange_id, symbol).
func (db *DB) SymbolsWithExchange(ctx context.Context, limit int) ([]JoinedSymbol, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT s.exchange_id, s.symbol, s.base_asset, s.quote_asset,
		        s.volume_24h, s.market_cap, s.rank, s.liquidity_score, s.is_active,
		        e.name, e.display_name
		   FROM exchange_symbols s
		   JOIN exchanges e ON e.id = s.exchange_id
		  WHERE s.is_active AND e.is_active
		  ORDER BY s.exchange_id, s.rank
		  LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query symbols join: %w", err)
	}
	defer rows.Close()

	var out []JoinedSymbol
	for rows.Next() {
		var j JoinedSymbol
		if err := rows.Scan(&j.ExchangeID, &j.Symbol, &j.BaseAsset, &j.QuoteAsset,
			&j.Volume24h, &j.MarketCap, &j.Rank, &j.LiquidityScore, &j.IsActive,
			&j.ExchangeName, &j.ExchangeDisplayName); err != nil {
			return nil, fmt.Errorf("scan symbols join: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
