package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"livermore/internal/model"
)

// ErrExchangeNotFound is returned when no exchanges row matches.
var ErrExchangeNotFound = errors.New("exchange not found")

// exchange name cache: process-local, populated lazily, never expired.
// Exchange rows are seeded at bootstrap and immutable at runtime.
var (
	exchangeNameMu    sync.RWMutex
	exchangeNameCache = map[int]string{}
)

const exchangeColumns = `id, name, display_name, ws_url, rest_url,
	supported_timeframes, api_limits, fee_schedule, geo_restrictions, is_active`

func scanExchange(row pgx.Row) (*model.Exchange, error) {
	var ex model.Exchange
	var tfs []string
	err := row.Scan(&ex.ID, &ex.Name, &ex.DisplayName, &ex.WSURL, &ex.RESTURL,
		&tfs, &ex.APILimits, &ex.FeeSchedule, &ex.GeoRestrictions, &ex.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExchangeNotFound
		}
		return nil, fmt.Errorf("scan exchange: %w", err)
	}
	for _, s := range tfs {
		ex.SupportedTimeframes = append(ex.SupportedTimeframes, model.Timeframe(s))
	}
	cacheExchangeName(ex.ID, ex.Name)
	return &ex, nil
}

// ExchangeByName loads one exchange row by its canonical name.
func (db *DB) ExchangeByName(ctx context.Context, name string) (*model.Exchange, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges WHERE name = $1`, name)
	return scanExchange(row)
}

// ExchangeByID loads one exchange row by surrogate id.
func (db *DB) ExchangeByID(ctx context.Context, id int) (*model.Exchange, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges WHERE id = $1`, id)
	return scanExchange(row)
}

// ActiveExchanges lists every exchange available to the fleet.
func (db *DB) ActiveExchanges(ctx context.Context) ([]model.Exchange, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var out []model.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ex)
	}
	return out, rows.Err()
}

// ExchangeName resolves id -> name through the process-local cache.
func (db *DB) ExchangeName(ctx context.Context, id int) (string, error) {
	exchangeNameMu.RLock()
	name, ok := exchangeNameCache[id]
	exchangeNameMu.RUnlock()
	if ok {
		return name, nil
	}
	ex, err := db.ExchangeByID(ctx, id)
	if err != nil {
		return "", err
	}
	return ex.Name, nil
}

func cacheExchangeName(id int, name string) {
	exchangeNameMu.Lock()
	exchangeNameCache[id] = name
	exchangeNameMu.Unlock()
}
