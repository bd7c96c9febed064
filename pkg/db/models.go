package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Submission is one order attempt. Quantities and prices are stored as the
// exact decimal strings that were sent.
type Submission struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Qty             string    `json:"qty"`
	EntryPrice      string    `json:"entry_price"`
	TakeProfitPrice string    `json:"take_profit_price"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	TriggerBranch   string    `json:"trigger_branch,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Position is the last reconciled exchange position per symbol.
type Position struct {
	Symbol     string    `json:"symbol"`
	Qty        float64   `json:"qty"`
	EntryPrice float64   `json:"entry_price"`
	Raw        string    `json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (d *Database) CreateSubmission(ctx context.Context, s Submission) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO submissions (id, symbol, side, qty, entry_price, take_profit_price, status, error, exchange_order_id, trigger_branch, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Symbol, s.Side, s.Qty, s.EntryPrice, s.TakeProfitPrice, s.Status,
		nullString(s.Error), nullString(s.ExchangeOrderID), nullString(s.TriggerBranch), s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// ListSubmissions returns the newest submissions first; symbol "" means all.
func (d *Database) ListSubmissions(ctx context.Context, symbol string, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, symbol, side, qty, entry_price, take_profit_price, status,
			COALESCE(error, ''), COALESCE(exchange_order_id, ''), COALESCE(trigger_branch, ''), created_at
		FROM submissions`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var res []Submission
	for rows.Next() {
		var s Submission
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Side, &s.Qty, &s.EntryPrice, &s.TakeProfitPrice, &s.Status,
			&s.Error, &s.ExchangeOrderID, &s.TriggerBranch, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpsertPosition stores the latest position snapshot for a symbol.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (symbol, qty, entry_price, raw, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			qty = excluded.qty,
			entry_price = excluded.entry_price,
			raw = excluded.raw,
			updated_at = excluded.updated_at
	`, p.Symbol, p.Qty, p.EntryPrice, nullString(p.Raw), p.UpdatedAt)
	return err
}

// DeletePosition removes a symbol that is now flat.
func (d *Database) DeletePosition(ctx context.Context, symbol string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol)
	return err
}

func (d *Database) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, qty, entry_price, COALESCE(raw, ''), updated_at
		FROM positions
		ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Qty, &p.EntryPrice, &p.Raw, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
