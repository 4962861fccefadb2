// Package store is the sqlite persistence layer for forecasts, trades,
// research insights, and portfolio snapshots.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Forecast is one stored prediction for a market outcome.
type Forecast struct {
	ID              int64     `json:"id"`
	MarketID        string    `json:"market_id"`
	MarketQuestion  string    `json:"market_question"`
	Outcome         string    `json:"outcome"`
	Probability     float64   `json:"probability"`
	Confidence      float64   `json:"confidence"`
	BaseRate        float64   `json:"base_rate,omitempty"`
	Reasoning       string    `json:"reasoning,omitempty"`
	EvidenceFor     []string  `json:"evidence_for,omitempty"`
	EvidenceAgainst []string  `json:"evidence_against,omitempty"`
	KeyFactors      []string  `json:"key_factors,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Trade is one stored trade execution record.
type Trade struct {
	ID                  int64      `json:"id"`
	MarketID            string     `json:"market_id"`
	MarketQuestion      string     `json:"market_question"`
	Outcome             string     `json:"outcome"`
	Side                string     `json:"side"` // BUY or SELL
	Size                float64    `json:"size"`
	Price               float64    `json:"price,omitempty"`
	ForecastProbability float64    `json:"forecast_probability"`
	Edge                float64    `json:"edge,omitempty"`
	Status              string     `json:"status"` // pending, executed, failed
	ExecutionEnabled    bool       `json:"execution_enabled"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	TransactionHash     string     `json:"transaction_hash,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	ExecutedAt          *time.Time `json:"executed_at,omitempty"`
}

// Insight is a persisted research note about a market.
type Insight struct {
	ID         int64     `json:"id"`
	MarketID   string    `json:"market_id"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// PortfolioSnapshot is a point-in-time portfolio state.
type PortfolioSnapshot struct {
	ID            int64     `json:"id"`
	Balance       float64   `json:"balance"`
	TotalValue    float64   `json:"total_value"`
	OpenPositions int       `json:"open_positions"`
	TotalPnL      float64   `json:"total_pnl"`
	WinRate       float64   `json:"win_rate,omitempty"`
	TotalTrades   int       `json:"total_trades"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and initializes the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS forecasts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			market_id TEXT NOT NULL,
			market_question TEXT NOT NULL,
			outcome TEXT NOT NULL,
			probability REAL NOT NULL,
			confidence REAL NOT NULL,
			base_rate REAL,
			reasoning TEXT,
			evidence_for TEXT,
			evidence_against TEXT,
			key_factors TEXT,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_forecasts_market ON forecasts(market_id);

		CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			market_id TEXT NOT NULL,
			market_question TEXT NOT NULL,
			outcome TEXT NOT NULL,
			side TEXT NOT NULL,
			size REAL NOT NULL,
			price REAL,
			forecast_probability REAL NOT NULL,
			edge REAL,
			status TEXT NOT NULL DEFAULT 'pending',
			execution_enabled INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			transaction_hash TEXT,
			created_at INTEGER NOT NULL,
			executed_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id);

		CREATE TABLE IF NOT EXISTS insights (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			market_id TEXT NOT NULL,
			content TEXT NOT NULL,
			confidence REAL NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_insights_market ON insights(market_id);

		CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			balance REAL NOT NULL,
			total_value REAL NOT NULL,
			open_positions INTEGER NOT NULL DEFAULT 0,
			total_pnl REAL NOT NULL DEFAULT 0,
			win_rate REAL,
			total_trades INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveForecast inserts a forecast and returns its id.
func (s *Store) SaveForecast(ctx context.Context, f *Forecast) (int64, error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO forecasts (
			market_id, market_question, outcome, probability, confidence,
			base_rate, reasoning, evidence_for, evidence_against, key_factors, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.MarketID, f.MarketQuestion, f.Outcome, f.Probability, f.Confidence,
		f.BaseRate, f.Reasoning, marshalList(f.EvidenceFor), marshalList(f.EvidenceAgainst),
		marshalList(f.KeyFactors), f.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save forecast: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	f.ID = id
	return id, nil
}

// ForecastsByMarket returns forecasts for one market, newest first.
func (s *Store) ForecastsByMarket(ctx context.Context, marketID string) ([]*Forecast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, market_question, outcome, probability, confidence,
			COALESCE(base_rate, 0), COALESCE(reasoning, ''),
			COALESCE(evidence_for, ''), COALESCE(evidence_against, ''),
			COALESCE(key_factors, ''), created_at
		FROM forecasts WHERE market_id = ? ORDER BY created_at DESC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecasts: %w", err)
	}
	defer rows.Close()

	return scanForecasts(rows)
}

// RecentForecasts returns the newest forecasts across all markets.
func (s *Store) RecentForecasts(ctx context.Context, limit int) ([]*Forecast, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, market_question, outcome, probability, confidence,
			COALESCE(base_rate, 0), COALESCE(reasoning, ''),
			COALESCE(evidence_for, ''), COALESCE(evidence_against, ''),
			COALESCE(key_factors, ''), created_at
		FROM forecasts ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecasts: %w", err)
	}
	defer rows.Close()

	return scanForecasts(rows)
}

func scanForecasts(rows *sql.Rows) ([]*Forecast, error) {
	forecasts := []*Forecast{}
	for rows.Next() {
		var f Forecast
		var evidenceFor, evidenceAgainst, keyFactors string
		var createdAt int64
		if err := rows.Scan(
			&f.ID, &f.MarketID, &f.MarketQuestion, &f.Outcome, &f.Probability,
			&f.Confidence, &f.BaseRate, &f.Reasoning,
			&evidenceFor, &evidenceAgainst, &keyFactors, &createdAt,
		); err != nil {
			return nil, err
		}
		f.EvidenceFor = unmarshalList(evidenceFor)
		f.EvidenceAgainst = unmarshalList(evidenceAgainst)
		f.KeyFactors = unmarshalList(keyFactors)
		f.CreatedAt = time.Unix(createdAt, 0)
		forecasts = append(forecasts, &f)
	}
	return forecasts, rows.Err()
}

// SaveTrade inserts a trade and returns its id.
func (s *Store) SaveTrade(ctx context.Context, t *Trade) (int64, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = "pending"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
			market_id, market_question, outcome, side, size, price,
			forecast_probability, edge, status, execution_enabled,
			error_message, transaction_hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.MarketID, t.MarketQuestion, t.Outcome, t.Side, t.Size, t.Price,
		t.ForecastProbability, t.Edge, t.Status, t.ExecutionEnabled,
		t.ErrorMessage, t.TransactionHash, t.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save trade: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

// UpdateTradeStatus transitions a trade to a new status, recording the
// execution timestamp, error, or transaction hash as appropriate.
func (s *Store) UpdateTradeStatus(ctx context.Context, tradeID int64, status, errorMessage, transactionHash string) error {
	var executedAt interface{}
	if status == "executed" {
		executedAt = time.Now().Unix()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE trades
		SET status = ?,
			error_message = CASE WHEN ? != '' THEN ? ELSE error_message END,
			transaction_hash = CASE WHEN ? != '' THEN ? ELSE transaction_hash END,
			executed_at = COALESCE(?, executed_at)
		WHERE id = ?`,
		status, errorMessage, errorMessage, transactionHash, transactionHash, executedAt, tradeID)
	if err != nil {
		return fmt.Errorf("failed to update trade status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("trade %d not found", tradeID)
	}
	return nil
}

// RecentTrades returns the newest trades.
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, market_question, outcome, side, size,
			COALESCE(price, 0), forecast_probability, COALESCE(edge, 0),
			status, execution_enabled, COALESCE(error_message, ''),
			COALESCE(transaction_hash, ''), created_at, executed_at
		FROM trades ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := []*Trade{}
	for rows.Next() {
		var t Trade
		var createdAt int64
		var executedAt sql.NullInt64
		if err := rows.Scan(
			&t.ID, &t.MarketID, &t.MarketQuestion, &t.Outcome, &t.Side, &t.Size,
			&t.Price, &t.ForecastProbability, &t.Edge, &t.Status,
			&t.ExecutionEnabled, &t.ErrorMessage, &t.TransactionHash,
			&createdAt, &executedAt,
		); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		if executedAt.Valid {
			ts := time.Unix(executedAt.Int64, 0)
			t.ExecutedAt = &ts
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// SaveInsight persists a research insight. Satisfies the builtin
// tools' insight store interface.
func (s *Store) SaveInsight(ctx context.Context, marketID, content string, confidence float64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO insights (market_id, content, confidence, created_at)
		VALUES (?, ?, ?, ?)`,
		marketID, content, confidence, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to save insight: %w", err)
	}
	return res.LastInsertId()
}

// InsightsByMarket returns insights for one market, newest first.
func (s *Store) InsightsByMarket(ctx context.Context, marketID string, limit int) ([]*Insight, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, content, confidence, created_at
		FROM insights WHERE market_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query insights: %w", err)
	}
	defer rows.Close()

	insights := []*Insight{}
	for rows.Next() {
		var i Insight
		var createdAt int64
		if err := rows.Scan(&i.ID, &i.MarketID, &i.Content, &i.Confidence, &createdAt); err != nil {
			return nil, err
		}
		i.CreatedAt = time.Unix(createdAt, 0)
		insights = append(insights, &i)
	}
	return insights, rows.Err()
}

// SavePortfolioSnapshot inserts a portfolio snapshot.
func (s *Store) SavePortfolioSnapshot(ctx context.Context, snap *PortfolioSnapshot) (int64, error) {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO portfolio_snapshots (
			balance, total_value, open_positions, total_pnl, win_rate, total_trades, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.Balance, snap.TotalValue, snap.OpenPositions, snap.TotalPnL,
		snap.WinRate, snap.TotalTrades, snap.CreatedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to save portfolio snapshot: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	snap.ID = id
	return id, nil
}

// LatestPortfolioSnapshot returns the newest snapshot, or nil when
// none exist.
func (s *Store) LatestPortfolioSnapshot(ctx context.Context) (*PortfolioSnapshot, error) {
	var snap PortfolioSnapshot
	var winRate sql.NullFloat64
	var createdAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, balance, total_value, open_positions, total_pnl, win_rate, total_trades, created_at
		FROM portfolio_snapshots ORDER BY created_at DESC, id DESC LIMIT 1`).
		Scan(&snap.ID, &snap.Balance, &snap.TotalValue, &snap.OpenPositions,
			&snap.TotalPnL, &winRate, &snap.TotalTrades, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio snapshot: %w", err)
	}

	if winRate.Valid {
		snap.WinRate = winRate.Float64
	}
	snap.CreatedAt = time.Unix(createdAt, 0)
	return &snap, nil
}

func marshalList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	return string(raw)
}

func unmarshalList(raw string) []string {
	if raw == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}
