package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/atmx/tradestreet/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded goose migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadPortfolio(ctx context.Context, key string) (model.Portfolio, error) {
	var cashS string
	var positionsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT cash::TEXT, positions FROM portfolios WHERE key = $1`, key).
		Scan(&cashS, &positionsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Portfolio{}, fmt.Errorf("%w: portfolio %s", ErrNotFound, key)
	}
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("load portfolio %s: %w", key, err)
	}

	var p model.Portfolio
	p.Cash, err = decimal.NewFromString(cashS)
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("load portfolio %s: cash: %w", key, err)
	}
	if err := json.Unmarshal(positionsJSON, &p.Positions); err != nil {
		return model.Portfolio{}, fmt.Errorf("load portfolio %s: positions: %w", key, err)
	}
	return p, nil
}

func (s *PostgresStore) SavePortfolio(ctx context.Context, key string, p model.Portfolio) error {
	positions := p.Positions
	if positions == nil {
		positions = []model.Position{}
	}
	data, err := json.Marshal(positions)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO portfolios (key, cash, positions, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::JSONB, NOW())
		 ON CONFLICT (key) DO UPDATE
		 SET cash = EXCLUDED.cash, positions = EXCLUDED.positions, updated_at = NOW()`,
		key, p.Cash.String(), data,
	)
	return err
}

func (s *PostgresStore) UpsertEntry(ctx context.Context, e model.LeaderboardEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO leaderboard_entries (identity, pnl, total_value, last_updated)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)
		 ON CONFLICT (identity) DO UPDATE
		 SET pnl = EXCLUDED.pnl,
		     total_value = EXCLUDED.total_value,
		     last_updated = EXCLUDED.last_updated`,
		e.Identity, e.PnL.String(), e.TotalValue.String(), e.LastUpdated,
	)
	return err
}

func (s *PostgresStore) TopEntries(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	query := `SELECT identity, pnl::TEXT, total_value::TEXT, last_updated
		 FROM leaderboard_entries
		 ORDER BY pnl DESC, identity ASC`
	var args []any
	if n > 0 {
		query += ` LIMIT $1`
		args = append(args, n)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// pgxRows is the subset of pgx.Rows used for scanning.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEntries(rows pgxRows) ([]model.LeaderboardEntry, error) {
	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		var pnlS, totalS string

		if err := rows.Scan(&e.Identity, &pnlS, &totalS, &e.LastUpdated); err != nil {
			return nil, err
		}

		var err error
		if e.PnL, err = decimal.NewFromString(pnlS); err != nil {
			return nil, fmt.Errorf("scan entry %s: pnl: %w", e.Identity, err)
		}
		if e.TotalValue, err = decimal.NewFromString(totalS); err != nil {
			return nil, fmt.Errorf("scan entry %s: total value: %w", e.Identity, err)
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
