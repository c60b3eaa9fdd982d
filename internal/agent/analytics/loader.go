// Package analytics implements the fixed three-stage pipeline: load/merge the
// raw per-entity tables, compute compact statistics, and synthesize exactly
// five labeled insights. Every stage output is bounded regardless of dataset
// size.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/olist-insight/server/internal/agent/model"
	errx "github.com/olist-insight/server/internal/core/error"
	logx "github.com/olist-insight/server/pkg/logger"
)

var orderDateColumns = []string{
	"order_purchase_timestamp",
	"order_approved_at",
	"order_delivered_carrier_date",
	"order_delivered_customer_date",
	"order_estimated_delivery_date",
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// Store reads the raw olist tables from SQLite through a populate-once
// in-memory cache keyed by table name. The cache is never invalidated;
// stale data across a long-lived process is an accepted limitation.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex
	cache map[string]*model.Table
}

// NewStore opens the analytics source database. A missing file is fatal.
func NewStore(cfg model.AnalyticsConfig) (*Store, error) {
	if _, err := os.Stat(cfg.DBPath); err != nil {
		return nil, errx.New(fmt.Errorf("sqlite database not found at %s", cfg.DBPath), http.StatusInternalServerError, errx.MissingDataMessage)
	}
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	return &Store{db: db, cache: make(map[string]*model.Table)}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Table loads a full table, serving repeats from the cache.
func (s *Store) Table(ctx context.Context, name string) (*model.Table, error) {
	s.mu.Lock()
	if t, ok := s.cache[name]; ok {
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()

	t, err := s.readTable(ctx, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[name] = t
	s.mu.Unlock()
	return t, nil
}

// tableAny tries table names in order; the schema builder has shipped both
// "payments" and "order_payments" spellings over time.
func (s *Store) tableAny(ctx context.Context, names ...string) (*model.Table, error) {
	var lastErr error
	for _, n := range names {
		t, err := s.Table(ctx, n)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Store) readTable(ctx context.Context, name string) (*model.Table, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, "SELECT * FROM "+name)
	if err != nil {
		return nil, fmt.Errorf("load table %s: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	t := &model.Table{Columns: cols}
	for rows.Next() {
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, c := range cells {
			if b, ok := c.([]byte); ok {
				cells[i] = string(b)
			}
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, rows.Err()
}

// parseTimestamp coerces a cell into a time.Time, returning false for
// unparseable or empty values.
func parseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		if x == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// ensureDatetime converts the named columns to time.Time in place, leaving
// unparseable values nil, mirroring a coerce-errors load.
func ensureDatetime(t *model.Table, cols []string) {
	for _, name := range cols {
		idx := t.ColumnIndex(name)
		if idx < 0 {
			continue
		}
		for _, row := range t.Rows {
			if ts, ok := parseTimestamp(row[idx]); ok {
				row[idx] = ts
			} else {
				row[idx] = nil
			}
		}
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}

// LoadMerged joins orders, order_items, customers, payments and reviews into
// one per-order table and derives the delivery_delay feature (actual minus
// estimated delivery, in days; nil when either timestamp is missing).
func (s *Store) LoadMerged(ctx context.Context) (*model.Table, error) {
	orders, err := s.Table(ctx, "orders")
	if err != nil {
		return nil, err
	}
	items, err := s.Table(ctx, "order_items")
	if err != nil {
		return nil, err
	}
	customers, err := s.Table(ctx, "customers")
	if err != nil {
		return nil, err
	}
	payments, err := s.tableAny(ctx, "payments", "order_payments")
	if err != nil {
		return nil, err
	}
	reviews, err := s.tableAny(ctx, "reviews", "order_reviews")
	if err != nil {
		return nil, err
	}

	// Work on a copy: the cache holds the raw load.
	ordersCopy := &model.Table{Columns: append([]string{}, orders.Columns...)}
	for _, row := range orders.Rows {
		ordersCopy.Rows = append(ordersCopy.Rows, append([]any{}, row...))
	}
	ensureDatetime(ordersCopy, orderDateColumns)

	itemAgg := aggregateItems(items)
	payAgg := aggregatePayments(payments)
	reviewScore := firstReviewScores(reviews)
	customerLoc := customerLocations(customers)

	merged := &model.Table{
		Columns: append(append([]string{}, ordersCopy.Columns...),
			"total_items", "total_price", "total_freight",
			"payment_value", "n_payments", "review_score",
			"customer_city", "customer_state", "delivery_delay"),
	}

	orderIDIdx := ordersCopy.ColumnIndex("order_id")
	customerIDIdx := ordersCopy.ColumnIndex("customer_id")
	deliveredIdx := ordersCopy.ColumnIndex("order_delivered_customer_date")
	estimatedIdx := ordersCopy.ColumnIndex("order_estimated_delivery_date")

	for _, row := range ordersCopy.Rows {
		out := append([]any{}, row...)

		var orderID string
		if orderIDIdx >= 0 {
			orderID, _ = row[orderIDIdx].(string)
		}

		if agg, ok := itemAgg[orderID]; ok {
			out = append(out, agg.totalItems, agg.totalPrice, agg.totalFreight)
		} else {
			out = append(out, nil, nil, nil)
		}
		if agg, ok := payAgg[orderID]; ok {
			out = append(out, agg.paymentValue, agg.nPayments)
		} else {
			out = append(out, nil, nil)
		}
		if score, ok := reviewScore[orderID]; ok {
			out = append(out, score)
		} else {
			out = append(out, nil)
		}
		var loc [2]any
		if customerIDIdx >= 0 {
			if cid, ok := row[customerIDIdx].(string); ok {
				if l, found := customerLoc[cid]; found {
					loc = l
				}
			}
		}
		out = append(out, loc[0], loc[1])

		var delay any
		if deliveredIdx >= 0 && estimatedIdx >= 0 {
			if delivered, ok1 := row[deliveredIdx].(time.Time); ok1 {
				if estimated, ok2 := row[estimatedIdx].(time.Time); ok2 {
					delay = int64(math.Floor(delivered.Sub(estimated).Hours() / 24))
				}
			}
		}
		out = append(out, delay)

		merged.Rows = append(merged.Rows, out)
	}

	logx.Debug().Int("orders", merged.NumRows()).Msg("merged analytics dataset")
	return merged, nil
}

type itemAggregate struct {
	totalItems   int64
	totalPrice   float64
	totalFreight float64
}

func aggregateItems(items *model.Table) map[string]itemAggregate {
	orderIdx := items.ColumnIndex("order_id")
	priceIdx := items.ColumnIndex("price")
	freightIdx := items.ColumnIndex("freight_value")

	agg := make(map[string]itemAggregate)
	if orderIdx < 0 {
		return agg
	}
	for _, row := range items.Rows {
		id, _ := row[orderIdx].(string)
		a := agg[id]
		a.totalItems++
		if priceIdx >= 0 {
			if v, ok := asFloat(row[priceIdx]); ok {
				a.totalPrice += v
			}
		}
		if freightIdx >= 0 {
			if v, ok := asFloat(row[freightIdx]); ok {
				a.totalFreight += v
			}
		}
		agg[id] = a
	}
	return agg
}

type paymentAggregate struct {
	paymentValue float64
	nPayments    int64
}

func aggregatePayments(payments *model.Table) map[string]paymentAggregate {
	orderIdx := payments.ColumnIndex("order_id")
	valueIdx := payments.ColumnIndex("payment_value")
	seqIdx := payments.ColumnIndex("payment_sequential")

	agg := make(map[string]paymentAggregate)
	if orderIdx < 0 {
		return agg
	}
	for _, row := range payments.Rows {
		id, _ := row[orderIdx].(string)
		a := agg[id]
		if valueIdx >= 0 {
			if v, ok := asFloat(row[valueIdx]); ok {
				a.paymentValue += v
			}
		}
		if seqIdx >= 0 {
			if v, ok := asFloat(row[seqIdx]); ok && int64(v) > a.nPayments {
				a.nPayments = int64(v)
			}
		}
		agg[id] = a
	}
	return agg
}

// firstReviewScores keeps one review score per order, first occurrence wins.
func firstReviewScores(reviews *model.Table) map[string]any {
	orderIdx := reviews.ColumnIndex("order_id")
	scoreIdx := reviews.ColumnIndex("review_score")

	out := make(map[string]any)
	if orderIdx < 0 || scoreIdx < 0 {
		return out
	}
	for _, row := range reviews.Rows {
		id, _ := row[orderIdx].(string)
		if _, seen := out[id]; !seen {
			out[id] = row[scoreIdx]
		}
	}
	return out
}

func customerLocations(customers *model.Table) map[string][2]any {
	idIdx := customers.ColumnIndex("customer_id")
	cityIdx := customers.ColumnIndex("customer_city")
	stateIdx := customers.ColumnIndex("customer_state")

	out := make(map[string][2]any)
	if idIdx < 0 {
		return out
	}
	for _, row := range customers.Rows {
		id, _ := row[idIdx].(string)
		var city, state any
		if cityIdx >= 0 {
			city = row[cityIdx]
		}
		if stateIdx >= 0 {
			state = row[stateIdx]
		}
		out[id] = [2]any{city, state}
	}
	return out
}
