package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

type CSVJournal struct {
	orders *csv.Writer
	fills  *csv.Writer
	of, ff *os.File
}

func NewCSV(ordersPath, fillsPath string) (*CSVJournal, error) {
	of, err := os.Create(ordersPath)
	if err != nil {
		return nil, err
	}
	ff, err := os.Create(fillsPath)
	if err != nil {
		of.Close()
		return nil, err
	}

	ow := csv.NewWriter(of)
	fw := csv.NewWriter(ff)

	if err := ow.Write([]string{"run_id", "order_id", "stage", "symbol", "side", "quantity", "order_type", "limit_price", "state", "time"}); err != nil {
		return nil, err
	}
	if err := fw.Write([]string{"run_id", "order_id", "symbol", "side", "quantity", "price", "time"}); err != nil {
		return nil, err
	}

	ow.Flush()
	if err := ow.Error(); err != nil {
		return nil, err
	}
	fw.Flush()
	if err := fw.Error(); err != nil {
		return nil, err
	}

	return &CSVJournal{ow, fw, of, ff}, nil
}

func (j *CSVJournal) RecordOrder(r OrderRecord) error {
	err := j.orders.Write([]string{
		r.RunID,
		r.OrderID,
		r.Stage,
		r.Symbol,
		r.Side,
		f(r.Quantity),
		r.OrderType,
		f(r.LimitPrice),
		r.State,
		r.Time.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	j.orders.Flush()
	return j.orders.Error()
}

func (j *CSVJournal) RecordFill(r FillRecord) error {
	err := j.fills.Write([]string{
		r.RunID,
		r.OrderID,
		r.Symbol,
		r.Side,
		f(r.Quantity),
		f(r.Price),
		r.Time.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	j.fills.Flush()
	return j.fills.Error()
}

func (j *CSVJournal) Close() error {
	if err := j.of.Close(); err != nil {
		j.ff.Close()
		return err
	}
	return j.ff.Close()
}

func f(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
