package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordOrder(r OrderRecord) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO orders
		(run_id, order_id, stage, symbol, side, quantity, order_type, limit_price, state, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.OrderID, r.Stage, r.Symbol, r.Side, r.Quantity,
		r.OrderType, r.LimitPrice, r.State, r.Time,
	)
	return err
}

func (j *SQLite) RecordFill(r FillRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO fills
		(run_id, order_id, symbol, side, quantity, price, time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.OrderID, r.Symbol, r.Side, r.Quantity, r.Price, r.Time,
	)
	return err
}

// FillsByRun returns the fills recorded for a run, oldest first.
func (j *SQLite) FillsByRun(runID string) ([]FillRecord, error) {
	rows, err := j.db.Query(`
		SELECT run_id, order_id, symbol, side, quantity, price, time
		FROM fills WHERE run_id = ? ORDER BY time`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []FillRecord
	for rows.Next() {
		var r FillRecord
		if err := rows.Scan(&r.RunID, &r.OrderID, &r.Symbol, &r.Side, &r.Quantity, &r.Price, &r.Time); err != nil {
			return nil, err
		}
		fills = append(fills, r)
	}
	return fills, rows.Err()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
