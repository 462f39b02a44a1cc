package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// Dialect captures the SQL differences between the supported databases
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// rebind rewrites ? placeholders to $n for postgres
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) migrations() []string {
	seq := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if d == DialectPostgres {
		seq = "seq BIGSERIAL PRIMARY KEY"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS trade_outcomes (
			` + seq + `,
			account TEXT NOT NULL,
			symbol TEXT NOT NULL,
			pnl_usd DOUBLE PRECISION NOT NULL,
			ts_unix_nano BIGINT NOT NULL,
			position_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_outcomes_account ON trade_outcomes(account, seq)`,
		`CREATE TABLE IF NOT EXISTS open_positions (
			account TEXT NOT NULL,
			id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			sector TEXT NOT NULL DEFAULT '',
			risk_amount_usd DOUBLE PRECISION NOT NULL,
			opened_at_unix_nano BIGINT NOT NULL,
			PRIMARY KEY (account, id)
		)`,
	}
}

// SQLStore persists the ledger in a SQL database. Rows are scoped by account
// so several accounts can share one database.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	account string
}

// OpenSQLite opens (and creates if needed) the SQLite database at path
func OpenSQLite(ctx context.Context, path, account string) (*SQLStore, error) {
	if path == "" {
		return nil, storageErr("open", errors.New("database path is empty"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storageErr("open", fmt.Errorf("create db directory: %w", err))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("open", fmt.Errorf("open sqlite: %w", err))
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	return newSQLStore(ctx, db, DialectSQLite, account)
}

// OpenPostgres connects to PostgreSQL with a lib/pq DSN
func OpenPostgres(ctx context.Context, dsn, account string) (*SQLStore, error) {
	if dsn == "" {
		return nil, storageErr("open", errors.New("postgres dsn is empty"))
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, storageErr("open", fmt.Errorf("failed to connect to database: %w", err))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storageErr("open", fmt.Errorf("failed to ping database: %w", err))
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return newSQLStore(ctx, db, DialectPostgres, account)
}

// NewSQLStore wraps an already-open database handle and runs migrations
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, account string) (*SQLStore, error) {
	return newSQLStore(ctx, db, dialect, account)
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, account string) (*SQLStore, error) {
	if account == "" {
		account = "default"
	}
	s := &SQLStore{db: db, dialect: dialect, account: account}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, storageErr("migrate", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.migrations() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// Dialect returns the database dialect
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) LoadOutcomes(ctx context.Context) ([]types.TradeOutcome, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT symbol, pnl_usd, ts_unix_nano, position_id
		FROM trade_outcomes
		WHERE account = ?
		ORDER BY seq`), s.account)
	if err != nil {
		return nil, storageErr(OpLoadOutcomes, err)
	}
	defer rows.Close()

	outcomes := make([]types.TradeOutcome, 0)
	for rows.Next() {
		var o types.TradeOutcome
		var ts int64
		if err := rows.Scan(&o.Symbol, &o.PnLUSD, &ts, &o.PositionID); err != nil {
			return nil, storageErr(OpLoadOutcomes, err)
		}
		o.Timestamp = time.Unix(0, ts).UTC()
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(OpLoadOutcomes, err)
	}
	return outcomes, nil
}

func (s *SQLStore) AppendOutcome(ctx context.Context, o types.TradeOutcome) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO trade_outcomes (account, symbol, pnl_usd, ts_unix_nano, position_id)
		VALUES (?, ?, ?, ?, ?)`),
		s.account, o.Symbol, o.PnLUSD, o.Timestamp.UnixNano(), o.PositionID,
	)
	return storageErr(OpAppendOutcome, err)
}

func (s *SQLStore) LoadPositions(ctx context.Context) ([]types.OpenPositionRisk, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, symbol, sector, risk_amount_usd, opened_at_unix_nano
		FROM open_positions
		WHERE account = ?`), s.account)
	if err != nil {
		return nil, storageErr(OpLoadPositions, err)
	}
	defer rows.Close()

	positions := make([]types.OpenPositionRisk, 0)
	for rows.Next() {
		var p types.OpenPositionRisk
		var opened int64
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Sector, &p.RiskAmountUSD, &opened); err != nil {
			return nil, storageErr(OpLoadPositions, err)
		}
		p.OpenedAt = time.Unix(0, opened).UTC()
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(OpLoadPositions, err)
	}
	sortPositions(positions)
	return positions, nil
}

func (s *SQLStore) PutPosition(ctx context.Context, p types.OpenPositionRisk) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO open_positions (account, id, symbol, sector, risk_amount_usd, opened_at_unix_nano)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account, id) DO UPDATE SET
			symbol = excluded.symbol,
			sector = excluded.sector,
			risk_amount_usd = excluded.risk_amount_usd,
			opened_at_unix_nano = excluded.opened_at_unix_nano`),
		s.account, p.ID, p.Symbol, p.Sector, p.RiskAmountUSD, p.OpenedAt.UnixNano(),
	)
	return storageErr(OpPutPosition, err)
}

func (s *SQLStore) DeletePosition(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM open_positions WHERE account = ? AND id = ?`), s.account, id)
	return storageErr(OpDeletePosition, err)
}

func (s *SQLStore) Close() error {
	return storageErr("close", s.db.Close())
}
