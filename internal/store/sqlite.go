package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/atmx/holdings-engine/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS lots (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL,
	portfolio_id   TEXT NOT NULL,
	ticker         TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	quantity       TEXT NOT NULL,
	purchase_price TEXT NOT NULL,
	purchase_date  TEXT NOT NULL,
	current_price  TEXT NOT NULL DEFAULT '0',
	UNIQUE (portfolio_id, id)
);
CREATE INDEX IF NOT EXISTS lots_portfolio ON lots (portfolio_id, seq);

CREATE TABLE IF NOT EXISTS quotes (
	portfolio_id TEXT NOT NULL,
	ticker       TEXT NOT NULL,
	price        TEXT NOT NULL,
	fetched_at   TEXT NOT NULL,
	PRIMARY KEY (portfolio_id, ticker)
);`

// SQLiteStore implements Store on a local SQLite file. Decimals are kept
// as TEXT so no precision is lost to REAL columns.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListLots(ctx context.Context, portfolioID string) ([]model.Lot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, portfolio_id, ticker, name, quantity, purchase_price, purchase_date, current_price
		 FROM lots WHERE portfolio_id = ? ORDER BY seq`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("list lots %s: %w", portfolioID, err)
	}
	defer rows.Close()

	var lots []model.Lot
	for rows.Next() {
		var l model.Lot
		var qtyS, priceS, dateS, currentS string
		if err := rows.Scan(&l.ID, &l.PortfolioID, &l.Ticker, &l.Name,
			&qtyS, &priceS, &dateS, &currentS); err != nil {
			return nil, err
		}
		l.Quantity, _ = decimal.NewFromString(qtyS)
		l.PurchasePrice, _ = decimal.NewFromString(priceS)
		l.CurrentPrice, _ = decimal.NewFromString(currentS)
		l.PurchaseDate, _ = time.Parse(time.RFC3339Nano, dateS)
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func (s *SQLiteStore) InsertLot(ctx context.Context, l *model.Lot) error {
	return sqliteInsertLot(ctx, s.db, l)
}

func (s *SQLiteStore) ReplaceLots(ctx context.Context, portfolioID string, lots []model.Lot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM lots WHERE portfolio_id = ?`, portfolioID); err != nil {
		return fmt.Errorf("replace lots %s: %w", portfolioID, err)
	}
	for i := range lots {
		l := lots[i]
		l.PortfolioID = portfolioID
		if err := sqliteInsertLot(ctx, tx, &l); err != nil {
			return fmt.Errorf("replace lots %s: %w", portfolioID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteLot(ctx context.Context, portfolioID, lotID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM lots WHERE portfolio_id = ? AND id = ?`, portfolioID, lotID)
	if err != nil {
		return fmt.Errorf("delete lot %s: %w", lotID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("lot %s: %w", lotID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteLots(ctx context.Context, portfolioID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM lots WHERE portfolio_id = ?`, portfolioID)
	return err
}

func (s *SQLiteStore) GetQuotes(ctx context.Context, portfolioID string) (map[string]model.Quote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, price, fetched_at FROM quotes WHERE portfolio_id = ?`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("get quotes %s: %w", portfolioID, err)
	}
	defer rows.Close()

	quotes := make(map[string]model.Quote)
	for rows.Next() {
		var q model.Quote
		var priceS, fetchedS string
		if err := rows.Scan(&q.Ticker, &priceS, &fetchedS); err != nil {
			return nil, err
		}
		q.Price, _ = decimal.NewFromString(priceS)
		q.FetchedAt, _ = time.Parse(time.RFC3339Nano, fetchedS)
		quotes[q.Ticker] = q
	}
	return quotes, rows.Err()
}

func (s *SQLiteStore) UpsertQuotes(ctx context.Context, portfolioID string, quotes []model.Quote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range quotes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO quotes (portfolio_id, ticker, price, fetched_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (portfolio_id, ticker) DO UPDATE SET price = excluded.price, fetched_at = excluded.fetched_at`,
			portfolioID, q.Ticker, q.Price.String(), q.FetchedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("upsert quote %s: %w", q.Ticker, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteQuotes(ctx context.Context, portfolioID string, tickers []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range tickers {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM quotes WHERE portfolio_id = ? AND ticker = ?`, portfolioID, t); err != nil {
			return fmt.Errorf("delete quote %s: %w", t, err)
		}
	}
	return tx.Commit()
}

// sqlExecer is satisfied by both *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func sqliteInsertLot(ctx context.Context, db sqlExecer, l *model.Lot) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO lots (id, portfolio_id, ticker, name, quantity, purchase_price, purchase_date, current_price)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.PortfolioID, l.Ticker, l.Name,
		l.Quantity.String(), l.PurchasePrice.String(),
		l.PurchaseDate.UTC().Format(time.RFC3339Nano), l.CurrentPrice.String(),
	)
	return err
}
