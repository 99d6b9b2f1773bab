package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/holdings-engine/internal/model"
)

// postgresSchema is applied by EnsureSchema. seq preserves insertion order,
// which consolidation relies on for purchase history ordering.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS lots (
	seq            BIGSERIAL,
	id             TEXT NOT NULL,
	portfolio_id   TEXT NOT NULL,
	ticker         TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	quantity       NUMERIC NOT NULL,
	purchase_price NUMERIC NOT NULL,
	purchase_date  TIMESTAMPTZ NOT NULL,
	current_price  NUMERIC NOT NULL DEFAULT 0,
	PRIMARY KEY (portfolio_id, id)
);
CREATE INDEX IF NOT EXISTS lots_portfolio_seq ON lots (portfolio_id, seq);

CREATE TABLE IF NOT EXISTS quotes (
	portfolio_id TEXT NOT NULL,
	ticker       TEXT NOT NULL,
	price        NUMERIC NOT NULL,
	fetched_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (portfolio_id, ticker)
);`

// PostgresStore implements Store using PostgreSQL.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLots(ctx context.Context, portfolioID string) ([]model.Lot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, portfolio_id, ticker, name,
		        quantity::TEXT, purchase_price::TEXT, purchase_date, current_price::TEXT
		 FROM lots WHERE portfolio_id = $1 ORDER BY seq`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("list lots %s: %w", portfolioID, err)
	}
	defer rows.Close()

	var lots []model.Lot
	for rows.Next() {
		var l model.Lot
		var qtyS, priceS, currentS string
		if err := rows.Scan(&l.ID, &l.PortfolioID, &l.Ticker, &l.Name,
			&qtyS, &priceS, &l.PurchaseDate, &currentS); err != nil {
			return nil, err
		}
		l.Quantity, _ = decimal.NewFromString(qtyS)
		l.PurchasePrice, _ = decimal.NewFromString(priceS)
		l.CurrentPrice, _ = decimal.NewFromString(currentS)
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func (s *PostgresStore) InsertLot(ctx context.Context, l *model.Lot) error {
	return insertLot(ctx, s.pool, l)
}

func (s *PostgresStore) ReplaceLots(ctx context.Context, portfolioID string, lots []model.Lot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM lots WHERE portfolio_id = $1`, portfolioID); err != nil {
		return fmt.Errorf("replace lots %s: %w", portfolioID, err)
	}
	for i := range lots {
		l := lots[i]
		l.PortfolioID = portfolioID
		if err := insertLot(ctx, tx, &l); err != nil {
			return fmt.Errorf("replace lots %s: %w", portfolioID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) DeleteLot(ctx context.Context, portfolioID, lotID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM lots WHERE portfolio_id = $1 AND id = $2`, portfolioID, lotID)
	if err != nil {
		return fmt.Errorf("delete lot %s: %w", lotID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lot %s: %w", lotID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteLots(ctx context.Context, portfolioID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM lots WHERE portfolio_id = $1`, portfolioID)
	return err
}

func (s *PostgresStore) GetQuotes(ctx context.Context, portfolioID string) (map[string]model.Quote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticker, price::TEXT, fetched_at FROM quotes WHERE portfolio_id = $1`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("get quotes %s: %w", portfolioID, err)
	}
	defer rows.Close()

	quotes := make(map[string]model.Quote)
	for rows.Next() {
		var q model.Quote
		var priceS string
		if err := rows.Scan(&q.Ticker, &priceS, &q.FetchedAt); err != nil {
			return nil, err
		}
		q.Price, _ = decimal.NewFromString(priceS)
		quotes[q.Ticker] = q
	}
	return quotes, rows.Err()
}

func (s *PostgresStore) UpsertQuotes(ctx context.Context, portfolioID string, quotes []model.Quote) error {
	batch := &pgx.Batch{}
	for _, q := range quotes {
		batch.Queue(
			`INSERT INTO quotes (portfolio_id, ticker, price, fetched_at)
			 VALUES ($1, $2, $3::NUMERIC, $4)
			 ON CONFLICT (portfolio_id, ticker)
			 DO UPDATE SET price = EXCLUDED.price, fetched_at = EXCLUDED.fetched_at`,
			portfolioID, q.Ticker, q.Price.String(), q.FetchedAt,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert quotes %s: %w", portfolioID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteQuotes(ctx context.Context, portfolioID string, tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM quotes WHERE portfolio_id = $1 AND ticker = ANY($2)`, portfolioID, tickers)
	if err != nil {
		return fmt.Errorf("delete quotes %s: %w", portfolioID, err)
	}
	return nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertLot(ctx context.Context, db execer, l *model.Lot) error {
	_, err := db.Exec(ctx,
		`INSERT INTO lots (id, portfolio_id, ticker, name, quantity, purchase_price, purchase_date, current_price)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC)`,
		l.ID, l.PortfolioID, l.Ticker, l.Name,
		l.Quantity.String(), l.PurchasePrice.String(),
		l.PurchaseDate, l.CurrentPrice.String(),
	)
	return err
}
