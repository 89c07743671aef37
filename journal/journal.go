// Package journal persists the per-run order and fill log the reporting
// layer renders after a rebalance. Two backends are provided: CSV for
// quick inspection and SQLite for querying across runs.
package journal

import "time"

// OrderRecord is one submitted (or planned) order.
type OrderRecord struct {
	RunID      string
	OrderID    string
	Stage      string // "fx", "sell", "buy"
	Symbol     string
	Side       string
	Quantity   float64
	OrderType  string
	LimitPrice float64
	State      string
	Time       time.Time
}

// FillRecord is one confirmed execution.
type FillRecord struct {
	RunID    string
	OrderID  string
	Symbol   string
	Side     string
	Quantity float64
	Price    float64
	Time     time.Time
}

type Journal interface {
	RecordOrder(OrderRecord) error
	RecordFill(FillRecord) error
	Close() error
}
